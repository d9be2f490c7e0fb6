// Package event fans decoded session events out to registered consumers.
// The set of event variants is fixed at compile time; there is no string
// keyed registration.
package event

import "time"

// Event is the sealed set of session lifecycle and message events.
type Event interface {
	isEvent()
}

// StateChanged reports a session lifecycle transition.
type StateChanged struct {
	SessionID string
	Old       string
	New       string
}

// PairingCode carries the raw pairing payload to display out of band. Also
// emitted when an expired challenge is silently refreshed.
type PairingCode struct {
	SessionID string
	Payload   string
	Ref       string
	ExpiresAt time.Time
	Refreshed bool
}

// Ready reports the session reached the authenticated ready state.
type Ready struct {
	SessionID string
}

// MessageReceived carries one decoded inbound application message.
type MessageReceived struct {
	SessionID string
	MessageID string
	Sender    string
	Body      string
	Timestamp time.Time
}

// MessageAcked reports the protocol-level delivery ack for an outbound message.
type MessageAcked struct {
	SessionID string
	MessageID string
}

// Disconnected reports a transport drop. The session schedules its own retry;
// this event is informational.
type Disconnected struct {
	SessionID string
	Reason    string
}

// SessionError surfaces a terminal error alongside the transition to closed.
type SessionError struct {
	SessionID string
	Kind      string
	Detail    string
}

func (StateChanged) isEvent()    {}
func (PairingCode) isEvent()     {}
func (Ready) isEvent()           {}
func (MessageReceived) isEvent() {}
func (MessageAcked) isEvent()    {}
func (Disconnected) isEvent()    {}
func (SessionError) isEvent()    {}
