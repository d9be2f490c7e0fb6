package pairing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chatpulse/chatpulse/pkg/chatpulse/credstore"
)

// Manager owns the outstanding challenge for one session. When a challenge
// expires unresolved and the session is still pairing, it silently generates
// a replacement and reports it through onRefresh; the caller only sees an
// informational event.
type Manager struct {
	clientID     string
	ttl          time.Duration
	stillPairing func() bool
	onRefresh    func(*Challenge)
	log          *logrus.Entry

	mu      sync.Mutex
	current *Challenge
	timer   *time.Timer
}

func NewManager(clientID string, ttl time.Duration, log *logrus.Entry, stillPairing func() bool, onRefresh func(*Challenge)) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		clientID:     clientID,
		ttl:          ttl,
		stillPairing: stillPairing,
		onRefresh:    onRefresh,
		log:          log,
	}
}

// Begin generates a fresh challenge and arms its expiry timer, replacing any
// outstanding challenge.
func (m *Manager) Begin() (*Challenge, error) {
	ch, err := NewChallenge(m.clientID, m.ttl)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.current = ch
	m.timer = time.AfterFunc(m.ttl, func() { m.expire(ch.Ref) })
	return ch, nil
}

// Resolve applies the scan result to the outstanding challenge. On success
// the challenge is consumed and its timer cancelled.
func (m *Manager) Resolve(scan ScanResult) (credstore.Credentials, error) {
	m.mu.Lock()
	ch := m.current
	m.mu.Unlock()

	if ch == nil {
		return credstore.Credentials{}, ErrExpired
	}

	creds, err := ch.Resolve(scan, time.Now())
	if err != nil {
		return credstore.Credentials{}, err
	}

	m.mu.Lock()
	if m.current == ch {
		m.stopTimerLocked()
		m.current = nil
	}
	m.mu.Unlock()
	return creds, nil
}

// Current returns the outstanding challenge, or nil.
func (m *Manager) Current() *Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop discards the outstanding challenge and cancels its timer. Safe to call
// repeatedly; there are no dangling timers after Stop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.current = nil
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) expire(ref string) {
	m.mu.Lock()
	if m.current == nil || m.current.Ref != ref {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.timer = nil
	still := m.stillPairing != nil && m.stillPairing()
	m.mu.Unlock()

	if !still {
		return
	}

	// Session is still pairing: refresh silently.
	ch, err := m.Begin()
	if err != nil {
		if m.log != nil {
			m.log.WithError(err).Error("Failed to refresh pairing challenge")
		}
		return
	}
	if m.log != nil {
		m.log.WithField("ref", ch.Ref).Info("Pairing challenge refreshed")
	}
	if m.onRefresh != nil {
		m.onRefresh(ch)
	}
}
