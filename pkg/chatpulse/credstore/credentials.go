package credstore

import (
	"errors"
	"time"
)

const (
	// SecretSize is the length of the shared encryption secret.
	SecretSize = 32

	// SigningKeySize is the length of the frame signing key.
	SigningKeySize = 32
)

// Credentials bind one paired client instance to an account. They are owned
// by the store for persistence and borrowed read-only by the packet codec for
// the lifetime of a session.
type Credentials struct {
	ClientID   string    `json:"client_id"`
	Secret     []byte    `json:"secret"`
	SigningKey []byte    `json:"signing_key"`
	IssuedAt   time.Time `json:"issued_at"`
	LastUsed   time.Time `json:"last_used"`
}

// Validate checks structural integrity, not expiry.
func (c Credentials) Validate() error {
	if c.ClientID == "" {
		return errors.New("credentials missing client id")
	}
	if len(c.Secret) != SecretSize {
		return errors.New("credentials secret has wrong size")
	}
	if len(c.SigningKey) != SigningKeySize {
		return errors.New("credentials signing key has wrong size")
	}
	if c.IssuedAt.IsZero() {
		return errors.New("credentials missing issue time")
	}
	return nil
}

// ExpiredAt reports whether the inactivity window has elapsed at now.
func (c Credentials) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := c.LastUsed
	if ref.IsZero() {
		ref = c.IssuedAt
	}
	return now.Sub(ref) > ttl
}

// Touch records activity so the inactivity window restarts.
func (c *Credentials) Touch(now time.Time) {
	c.LastUsed = now
}
