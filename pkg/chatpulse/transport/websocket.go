package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Config tunes a WebSocket transport.
type Config struct {
	Address      string
	PingInterval time.Duration
	WriteTimeout time.Duration
	QueueCap     int
}

func (c *Config) defaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueCap <= 0 {
		c.QueueCap = DefaultQueueCap
	}
}

// WebSocket is the production transport: one duplex websocket link with a
// ping loop and a read deadline of twice the ping interval.
type WebSocket struct {
	cfg Config
	log *logrus.Entry

	frames   chan []byte
	failures chan error
	queue    *sendQueue

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	failed    bool
	pingStop  chan struct{}
}

func NewWebSocket(cfg Config, log *logrus.Entry) *WebSocket {
	cfg.defaults()
	return &WebSocket{
		cfg:      cfg,
		log:      log,
		frames:   make(chan []byte, 64),
		failures: make(chan error, 4),
		queue:    newSendQueue(cfg.QueueCap, log),
	}
}

func (t *WebSocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 20 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.cfg.Address, nil)
	if err != nil {
		return err
	}

	readDeadline := 2 * t.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	stop := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.failed = false
	t.pingStop = stop
	t.mu.Unlock()

	go t.readLoop(conn, readDeadline)
	go t.pingLoop(conn, stop)

	if t.log != nil {
		t.log.Info("Transport connected")
	}
	return nil
}

func (t *WebSocket) readLoop(conn *websocket.Conn, readDeadline time.Duration) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.fail(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		select {
		case t.frames <- msg:
		default:
			if t.log != nil {
				t.log.Warn("Inbound frame channel full, dropping frame")
			}
		}
	}
}

func (t *WebSocket) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.fail(conn, err)
				return
			}
		}
	}
}

func (t *WebSocket) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		t.queue.push(frame)
		return nil
	}
	conn := t.conn
	t.mu.Unlock()

	return t.write(conn, frame)
}

func (t *WebSocket) write(conn *websocket.Conn, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn || !t.connected {
		t.queue.push(frame)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		go t.fail(conn, err)
		return err
	}
	return nil
}

func (t *WebSocket) Flush(ctx context.Context) error {
	for _, frame := range t.queue.drain() {
		if err := t.Send(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *WebSocket) Frames() <-chan []byte { return t.frames }

func (t *WebSocket) Failures() <-chan error { return t.failures }

func (t *WebSocket) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *WebSocket) QueueLen() int { return t.queue.len() }

// fail marks the link down and reports one failure per established link.
// Errors from a superseded conn are ignored so a loop left over from a
// closed link can never take down its replacement.
func (t *WebSocket) fail(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if conn != t.conn || t.failed || !t.connected {
		t.mu.Unlock()
		return
	}
	t.failed = true
	t.connected = false
	t.conn = nil
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if isTimeout(err) {
		err = ErrLivenessTimeout
	}
	if t.log != nil {
		t.log.WithError(err).Warn("Transport link failed")
	}
	select {
	case t.failures <- err:
	default:
	}
}

func (t *WebSocket) Close(reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	wasConnected := t.connected
	t.connected = false
	t.failed = true
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
	t.mu.Unlock()

	t.queue.clear()

	if conn == nil || !wasConnected {
		return nil
	}

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return conn.Close()
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
