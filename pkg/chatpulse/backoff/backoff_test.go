package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicy_DelayDoublesUntilCap(t *testing.T) {
	p := Policy{Base: time.Second, Max: 16 * time.Second, MaxAttempts: 10}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}
	for attempt, want := range expected {
		require.Equal(t, want, p.Delay(attempt), "attempt %d", attempt)
	}
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, Jitter: 500 * time.Millisecond}

	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		require.GreaterOrEqual(t, d, 4*time.Second)
		require.LessOrEqual(t, d, 4*time.Second+500*time.Millisecond)
	}
}

func TestPolicy_DelayNegativeAttempt(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second}
	require.Equal(t, time.Second, p.Delay(-5))
}

func TestPolicy_DelayHugeAttemptSaturatesAtMax(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second}
	require.Equal(t, 30*time.Second, p.Delay(1000))
}

func TestPolicy_DelayZeroValuesUseDefaults(t *testing.T) {
	var p Policy
	require.Equal(t, DefaultBase, p.Delay(0))
	require.Equal(t, DefaultMax, p.Delay(1000))
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	require.False(t, p.Exhausted(0))
	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))
	require.True(t, p.Exhausted(4))
}

func TestPolicy_ExhaustedDefaultCeiling(t *testing.T) {
	var p Policy
	require.False(t, p.Exhausted(DefaultMaxAttempts-1))
	require.True(t, p.Exhausted(DefaultMaxAttempts))
}

func TestState_FailureAdvances(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5}
	var s State

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	d := s.Failure(p, now)
	require.Equal(t, time.Second, d)
	require.Equal(t, 1, s.Attempts)
	require.Equal(t, now, s.LastFailure)

	d = s.Failure(p, now.Add(time.Second))
	require.Equal(t, 2*time.Second, d)
	require.Equal(t, 2, s.Attempts)
}

func TestState_ResetClearsProgress(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5}
	var s State

	s.Failure(p, time.Now())
	s.Failure(p, time.Now())
	require.Equal(t, 2, s.Attempts)

	s.Reset()
	require.Zero(t, s.Attempts)
	require.True(t, s.LastFailure.IsZero())
	require.Zero(t, s.Delay)

	// After a reset the next failure starts the sequence over.
	require.Equal(t, time.Second, s.Failure(p, time.Now()))
}
