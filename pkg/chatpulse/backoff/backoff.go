// Package backoff decides whether and when to retry after a transport
// failure.
package backoff

import (
	mathrand "math/rand/v2"
	"time"
)

const (
	DefaultBase        = 1 * time.Second
	DefaultMax         = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Policy is an exponential backoff: delay = base * 2^attempt, capped at Max.
// After MaxAttempts failures the session gives up with a terminal error
// instead of retrying forever.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Jitter      time.Duration
}

func Default() Policy {
	return Policy{
		Base:        DefaultBase,
		Max:         DefaultMax,
		MaxAttempts: DefaultMaxAttempts,
		Jitter:      500 * time.Millisecond,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}

	if attempt < 0 {
		attempt = 0
	}
	// Shift saturates well before overflow territory.
	if attempt > 30 {
		attempt = 30
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	if p.Jitter > 0 {
		delay += time.Duration(mathrand.Int64N(int64(p.Jitter) + 1))
	}
	return delay
}

// Exhausted reports whether attempt exceeds the retry ceiling.
func (p Policy) Exhausted(attempt int) bool {
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	return attempt >= limit
}

// State tracks reconnect progress for one session. Reset on every successful
// entry into the ready state.
type State struct {
	Attempts    int
	LastFailure time.Time
	Delay       time.Duration
}

// Failure records a transport failure and returns the next delay under p.
func (s *State) Failure(p Policy, now time.Time) time.Duration {
	s.LastFailure = now
	s.Delay = p.Delay(s.Attempts)
	s.Attempts++
	return s.Delay
}

// Reset zeroes the attempt counter.
func (s *State) Reset() {
	s.Attempts = 0
	s.LastFailure = time.Time{}
	s.Delay = 0
}
