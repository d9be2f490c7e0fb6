package internal

import (
	"context"
	mathrand "math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chatpulse/chatpulse/internal/registry"
	"github.com/chatpulse/chatpulse/pkg/env"
	"github.com/chatpulse/chatpulse/pkg/hub"
	"github.com/chatpulse/chatpulse/pkg/log"
)

func jitterSleep(max time.Duration) {
	if max <= 0 {
		return
	}
	ms := mathrand.Int64N(max.Milliseconds() + 1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func reconnectWithRetry(ctx context.Context, sessionID string, retries int, baseBackoff time.Duration, maxBackoff time.Duration) error {
	if retries <= 1 {
		return hub.Reconnect(ctx, sessionID)
	}
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = hub.Reconnect(ctx, sessionID)
		if lastErr == nil {
			return nil
		}

		// Exponential backoff with small jitter.
		backoff := baseBackoff * time.Duration(1<<(attempt-1))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(mathrand.Int64N(int64(500*time.Millisecond) + 1))
		time.Sleep(backoff + jitter)
	}
	return lastErr
}

// Startup restores sessions that were active or disconnected at last
// shutdown. Sessions without stored credentials fall back to pending and
// wait for a fresh pairing.
func Startup() {
	log.Print(nil).Info("Running Startup Tasks")

	ctx := context.Background()

	sessions, err := registry.GetSessionsNeedingRecovery(ctx)
	if err != nil {
		log.Print(nil).Error("Failed to load sessions needing recovery: " + err.Error())
		return
	}

	maxConcurrent := env.GetEnvIntOrDefault("CHATPULSE_STARTUP_RECONNECT_CONCURRENCY", 10)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	jitterMax := env.GetEnvDurationOrDefault("CHATPULSE_STARTUP_RECONNECT_JITTER_MAX", 5*time.Second)
	retries := env.GetEnvIntOrDefault("CHATPULSE_STARTUP_RECONNECT_RETRIES", 3)
	if retries < 1 {
		retries = 1
	}
	baseBackoff := env.GetEnvDurationOrDefault("CHATPULSE_STARTUP_RECONNECT_BACKOFF_BASE", 2*time.Second)
	maxBackoff := env.GetEnvDurationOrDefault("CHATPULSE_STARTUP_RECONNECT_BACKOFF_MAX", 30*time.Second)

	var restored, failed int64
	sem := semaphore.NewWeighted(int64(maxConcurrent))

	for _, session := range sessions {
		sessionID := session.SessionID
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		go func(sessionID string) {
			defer sem.Release(1)

			jitterSleep(jitterMax)
			log.Session(sessionID).Info("Restoring session")

			err := reconnectWithRetry(ctx, sessionID, retries, baseBackoff, maxBackoff)
			if err != nil {
				log.Session(sessionID).Warn("Failed to restore session: " + err.Error())
				// Mark as disconnected so the health sweep can retry later.
				_ = registry.UpdateSessionStatus(context.Background(), sessionID, "disconnected")
				atomic.AddInt64(&failed, 1)
				return
			}
			atomic.AddInt64(&restored, 1)
		}(sessionID)
	}

	// Drain the semaphore so the summary reflects the full pass.
	_ = sem.Acquire(ctx, int64(maxConcurrent))
	sem.Release(int64(maxConcurrent))

	log.Print(nil).
		WithField("restored", restored).
		WithField("failed", failed).
		WithField("concurrency", maxConcurrent).
		WithField("retries", retries).
		Info("Startup recovery pass complete")
}
