// Package wire serializes session envelopes into the encrypted, signed frame
// format exchanged with the transport. The frame layout is an internal detail
// between this package and the transport; nothing outside the session client
// parses it.
package wire

import "time"

// Kind tags an envelope with its protocol meaning.
type Kind uint8

const (
	// KindAuth carries the client's credential proof after connecting.
	KindAuth Kind = iota + 1
	// KindAuthAck confirms the remote accepted the session credentials.
	KindAuthAck
	// KindAuthReject signals the remote rejected the session credentials.
	KindAuthReject
	// KindMessage carries an application message.
	KindMessage
	// KindAck is a delivery acknowledgement for a previously sent message.
	KindAck
	// KindPresence carries presence updates.
	KindPresence
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindAuthAck:
		return "auth_ack"
	case KindAuthReject:
		return "auth_reject"
	case KindMessage:
		return "message"
	case KindAck:
		return "ack"
	case KindPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// Envelope is a decoded, typed unit of protocol data. One envelope per wire
// frame; validated before being handed to the dispatcher.
type Envelope struct {
	Kind      Kind
	Timestamp time.Time
	Payload   []byte
}
