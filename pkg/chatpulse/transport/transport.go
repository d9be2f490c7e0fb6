// Package transport owns the duplex socket to the remote endpoint, framing
// raw bytes into discrete messages with automatic liveness checking. Frames
// sent while disconnected are queued FIFO up to a bounded size.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed indicates the transport was closed by the caller.
	ErrClosed = errors.New("transport closed")

	// ErrLivenessTimeout indicates no inbound traffic (including pongs)
	// arrived within twice the ping interval. Treated as a hard disconnect.
	ErrLivenessTimeout = errors.New("transport liveness timeout")
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultQueueCap     = 128
	DefaultWriteTimeout = 10 * time.Second
)

// Conn is the transport contract the session state machine drives. Exactly
// one Connect may be in flight at a time; the session serializes reconnects.
type Conn interface {
	// Connect establishes the link. Any previous link must have fully
	// failed or been closed first.
	Connect(ctx context.Context) error

	// Send transmits one frame, or queues it in FIFO order while the link
	// is down. Queue overflow drops the oldest entry and logs a warning;
	// it is never surfaced to the caller.
	Send(ctx context.Context, frame []byte) error

	// Flush transmits all queued frames in their original order.
	Flush(ctx context.Context) error

	// Frames delivers inbound frames.
	Frames() <-chan []byte

	// Failures delivers transport-level failures (read errors, liveness
	// timeouts). One failure is delivered per established link at most.
	Failures() <-chan error

	Connected() bool
	QueueLen() int

	// Close tears the link down and discards all queued sends.
	Close(reason string) error
}
