package types

type RequestLogin struct {
	Output string
}

type RequestResolvePair struct {
	ClientID string `json:"client_id"`
	Ref      string `json:"ref"`
	PeerKey  string `json:"peer_key"`
	Nonce    string `json:"nonce"`
}

type ResponseLogin struct {
	QRCode  string `json:"qr_code"`
	Payload string `json:"payload,omitempty"`
	Timeout int    `json:"timeout"`
}

type RequestSendMessage struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

type RequestSendReaction struct {
	Target    string `json:"target"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ResponseSendMessage struct {
	MessageID string `json:"message_id"`
}
