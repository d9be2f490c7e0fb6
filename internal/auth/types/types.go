package types

// RequestCreateSession is the request for registering a new session.
type RequestCreateSession struct {
	SessionName string `json:"session_name" form:"session_name"`
}

// RequestRegenerateToken is the request for regenerating a session JWT.
type RequestRegenerateToken struct {
	SessionID     string `json:"session_id"`
	SessionSecret string `json:"session_secret"`
}

// ResponseSessionCreated is the response for new session registration.
type ResponseSessionCreated struct {
	SessionID     string `json:"session_id"`
	SessionSecret string `json:"session_secret"`
	SessionName   string `json:"session_name"`
	Token         string `json:"token"`
	Message       string `json:"message"`
}

// ResponseTokenRegenerated is the response for JWT regeneration.
type ResponseTokenRegenerated struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Message   string `json:"message"`
}
