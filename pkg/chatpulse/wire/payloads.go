package wire

import "encoding/json"

// AuthRequest is the payload of a KindAuth envelope. The frame carrying it is
// already encrypted and signed under the session credentials, so the payload
// only needs to name the client and whether this is a resume.
type AuthRequest struct {
	ClientID string `json:"client_id"`
	Resume   bool   `json:"resume"`
}

// AuthReject is the payload of a KindAuthReject envelope.
type AuthReject struct {
	Reason string `json:"reason"`
}

// Message is the payload of KindMessage envelopes in both directions.
// ReplyTo carries the referenced message ID for reactions and replies.
type Message struct {
	ID      string `json:"id"`
	Target  string `json:"target,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Body    string `json:"body"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Ack is the payload of KindAck envelopes.
type Ack struct {
	MessageID string `json:"message_id"`
}

func MarshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func UnmarshalPayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
