package webhook

import (
	"time"
)

type EventType string

const (
	EventMessageReceived     EventType = "message.received"
	EventMessageAcked        EventType = "message.acked"
	EventSessionPairing      EventType = "session.pairing"
	EventSessionReady        EventType = "session.ready"
	EventSessionDisconnected EventType = "session.disconnected"
	EventSessionClosed       EventType = "session.closed"
	EventSessionError        EventType = "session.error"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

type WebhookConfig struct {
	ID        int64
	SessionID string
	URL       string
	Secret    string
	Events    []EventType
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WebhookEvent struct {
	EventType EventType              `json:"event_type"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

type DeliveryLog struct {
	ID           int64
	WebhookID    int64
	EventType    EventType
	Status       DeliveryStatus
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
