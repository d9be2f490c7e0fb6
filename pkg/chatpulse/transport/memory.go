package transport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Memory is an in-process loopback transport for development and tests. It is
// constructed and injected explicitly by the caller; the production client
// never falls back to it on its own.
type Memory struct {
	log *logrus.Entry

	frames   chan []byte
	failures chan error
	queue    *sendQueue

	mu          sync.Mutex
	connected   bool
	failedLink  bool
	connectErrs []error
	connectHook func()
	sent        [][]byte
	responder   func(frame []byte) [][]byte
}

func NewMemory(log *logrus.Entry) *Memory {
	return &Memory{
		log:      log,
		frames:   make(chan []byte, 64),
		failures: make(chan error, 4),
		queue:    newSendQueue(DefaultQueueCap, log),
	}
}

// Respond installs a scripted peer: every accepted frame is passed to fn and
// each returned frame is injected as inbound traffic.
func (m *Memory) Respond(fn func(frame []byte) [][]byte) {
	m.mu.Lock()
	m.responder = fn
	m.mu.Unlock()
}

// FailConnects makes the next len(errs) Connect calls fail in order.
func (m *Memory) FailConnects(errs ...error) {
	m.mu.Lock()
	m.connectErrs = append(m.connectErrs, errs...)
	m.mu.Unlock()
}

// HookConnect runs fn at the start of every Connect, before the link state
// changes. Tests use it to interleave operations with an in-flight dial.
func (m *Memory) HookConnect(fn func()) {
	m.mu.Lock()
	m.connectHook = fn
	m.mu.Unlock()
}

func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	hook := m.connectHook
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		return err
	}
	m.connected = true
	m.failedLink = false
	return nil
}

func (m *Memory) Send(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		m.queue.push(frame)
		return nil
	}
	m.sent = append(m.sent, frame)
	responder := m.responder
	m.mu.Unlock()

	if responder != nil {
		for _, reply := range responder(frame) {
			m.Inject(reply)
		}
	}
	return nil
}

func (m *Memory) Flush(ctx context.Context) error {
	for _, frame := range m.queue.drain() {
		if err := m.Send(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

// Inject simulates an inbound frame from the peer.
func (m *Memory) Inject(frame []byte) {
	select {
	case m.frames <- frame:
	default:
		if m.log != nil {
			m.log.Warn("Inbound frame channel full, dropping frame")
		}
	}
}

// DropLink simulates a transport-level failure.
func (m *Memory) DropLink(err error) {
	m.mu.Lock()
	if !m.connected || m.failedLink {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.failedLink = true
	m.mu.Unlock()

	select {
	case m.failures <- err:
	default:
	}
}

// Sent returns a copy of every frame the link accepted, in order.
func (m *Memory) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *Memory) Frames() <-chan []byte { return m.frames }

func (m *Memory) Failures() <-chan error { return m.failures }

func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Memory) QueueLen() int { return m.queue.len() }

func (m *Memory) Close(reason string) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.queue.clear()
	return nil
}
