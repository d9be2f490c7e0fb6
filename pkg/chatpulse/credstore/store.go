// Package credstore persists session credentials. Secrets are encrypted at
// rest with a key derived from a secret the caller supplies, never stored
// next to the ciphertext.
package credstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no stored credentials exist for the session.
	ErrNotFound = errors.New("credentials not found")

	// ErrExpired indicates stored credentials exceeded the inactivity window.
	// The caller falls back to pairing; this is not a hard failure.
	ErrExpired = errors.New("credentials expired")
)

// DefaultTTL is the credential inactivity window. Expiry is checked on load,
// never lazily during use.
const DefaultTTL = 30 * 24 * time.Hour

// Store is the durable holder of session secrets enabling reconnection
// without re-pairing.
type Store interface {
	Load(ctx context.Context, sessionID string) (Credentials, error)
	Save(ctx context.Context, sessionID string, creds Credentials) error
	Delete(ctx context.Context, sessionID string) error
}
