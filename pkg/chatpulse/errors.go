package chatpulse

import "errors"

var (
	// ErrConnectionFailed is transport-level and retryable; it becomes
	// terminal only once the reconnect policy is exhausted.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrPairingExpired means the challenge timed out; a fresh one is
	// generated automatically while the session stays in pairing.
	ErrPairingExpired = errors.New("pairing expired")

	// ErrPairingInvalid is a caller error and is not retried.
	ErrPairingInvalid = errors.New("pairing invalid")

	// ErrAuthFailed means the remote rejected the credentials. Never
	// retried automatically; surfaced with the transition to closed.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSessionExpired means stored credentials aged out; the session
	// falls back to pairing rather than failing hard.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotPaired means the session holds no credentials yet, so nothing
	// can be encoded for the wire.
	ErrNotPaired = errors.New("session not paired")

	// ErrRateLimited means the send rate budget is exhausted and the
	// caller's context expired while backing off.
	ErrRateLimited = errors.New("rate limited")

	// ErrClosed means the session reached its terminal state.
	ErrClosed = errors.New("session closed")

	// ErrInvalidTransition means an operation was attempted in a state
	// that does not permit it.
	ErrInvalidTransition = errors.New("invalid state transition")
)
