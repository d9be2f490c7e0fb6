package chatpulse

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/chatpulse/chatpulse/pkg/chatpulse/backoff"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/pairing"
	"github.com/chatpulse/chatpulse/pkg/env"
)

// Config tunes one session client. Zero values fall back to defaults.
type Config struct {
	SessionID string

	PairingTTL  time.Duration
	AuthTimeout time.Duration

	Reconnect backoff.Policy

	// SendRate caps outbound messages per second; sends over budget are
	// delayed, never dropped and never fatal to the session.
	SendRate  rate.Limit
	SendBurst int
}

const defaultAuthTimeout = 30 * time.Second

func (c *Config) defaults() {
	if c.PairingTTL <= 0 {
		c.PairingTTL = pairing.DefaultTTL
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.Reconnect == (backoff.Policy{}) {
		c.Reconnect = backoff.Default()
	}
	if c.SendRate <= 0 {
		c.SendRate = rate.Limit(10)
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 20
	}
}

// ConfigFromEnv builds a session config from CHATPULSE_* environment
// variables, falling back to code defaults.
func ConfigFromEnv(sessionID string) Config {
	return Config{
		SessionID:   sessionID,
		PairingTTL:  env.GetEnvDurationOrDefault("CHATPULSE_PAIRING_TTL", pairing.DefaultTTL),
		AuthTimeout: env.GetEnvDurationOrDefault("CHATPULSE_AUTH_TIMEOUT", defaultAuthTimeout),
		Reconnect: backoff.Policy{
			Base:        env.GetEnvDurationOrDefault("CHATPULSE_BACKOFF_BASE", backoff.DefaultBase),
			Max:         env.GetEnvDurationOrDefault("CHATPULSE_BACKOFF_MAX", backoff.DefaultMax),
			MaxAttempts: env.GetEnvIntOrDefault("CHATPULSE_BACKOFF_MAX_ATTEMPTS", backoff.DefaultMaxAttempts),
			Jitter:      env.GetEnvDurationOrDefault("CHATPULSE_BACKOFF_JITTER", 500*time.Millisecond),
		},
		SendRate:  rate.Limit(env.GetEnvIntOrDefault("CHATPULSE_SEND_RATE", 10)),
		SendBurst: env.GetEnvIntOrDefault("CHATPULSE_SEND_BURST", 20),
	}
}
