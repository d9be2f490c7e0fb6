// Package chatpulse implements an authenticated, encrypted, reconnecting
// session client: connection lifecycle, QR-based device pairing, credential
// resume, message exchange, and retry policy. The wire protocol behind the
// transport is pluggable; this package owns the session semantics.
package chatpulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/chatpulse/chatpulse/pkg/chatpulse/backoff"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/credstore"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/event"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/pairing"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/transport"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/wire"
)

// Client is one session. It is the sole writer of session state; transitions
// are serialized behind a single mutex so no two are ever in flight at once.
type Client struct {
	cfg    Config
	conn   transport.Conn
	store  credstore.Store
	pair   *pairing.Manager
	events *event.Dispatcher

	limiter *rate.Limiter
	log     *logrus.Entry

	mu           sync.Mutex
	state        State
	creds        *credstore.Credentials
	codec        *wire.Codec
	reconnect    backoff.State
	lastActivity time.Time
	authTimer    *time.Timer
	retryTimer   *time.Timer

	loopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// Snapshot is a point-in-time view of the session, safe to hand out.
type Snapshot struct {
	SessionID         string    `json:"session_id"`
	State             string    `json:"state"`
	IsAuthenticated   bool      `json:"is_authenticated"`
	LastActivity      time.Time `json:"last_activity,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	QueuedSends       int       `json:"queued_sends"`
}

// NewClient builds a session client on an injected transport and credential
// store. The transport decides production (websocket) versus test double
// (memory loopback); the client never swaps one in by itself.
func NewClient(cfg Config, conn transport.Conn, store credstore.Store, log *logrus.Entry) *Client {
	cfg.defaults()
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		store:   store,
		events:  event.NewDispatcher(log),
		limiter: rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
		log:     log,
		state:   StateDisconnected,
		done:    make(chan struct{}),
	}

	c.pair = pairing.NewManager(cfg.SessionID, cfg.PairingTTL, log,
		func() bool { return c.State() == StatePairing },
		func(ch *pairing.Challenge) {
			c.events.Publish(event.PairingCode{
				SessionID: cfg.SessionID,
				Payload:   ch.Payload(),
				Ref:       ch.Ref,
				ExpiresAt: ch.ExpiresAt,
				Refreshed: true,
			})
		})

	return c
}

// Events exposes the dispatcher so consumers can register handlers before
// Connect.
func (c *Client) Events() *event.Dispatcher { return c.events }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a point-in-time view of the session.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:         c.cfg.SessionID,
		State:             c.state.String(),
		IsAuthenticated:   c.codec != nil && c.state == StateReady,
		LastActivity:      c.lastActivity,
		ReconnectAttempts: c.reconnect.Attempts,
		QueuedSends:       c.conn.QueueLen(),
	}
}

// Connect establishes the transport link, then either resumes from stored
// credentials or begins pairing. The session reaches ready asynchronously
// once the remote acks the credentials; watch the dispatcher for Ready.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		from := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, from)
	}
	ev, _ := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	c.publish(ev)

	if err := c.conn.Connect(ctx); err != nil {
		c.mu.Lock()
		back, _ := c.transitionLocked(StateDisconnected)
		c.mu.Unlock()
		c.publish(back)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.startLoop()

	creds, err := c.store.Load(ctx, c.cfg.SessionID)
	switch {
	case err == nil:
		return c.beginResume(ctx, creds)
	case errors.Is(err, credstore.ErrNotFound):
		return c.beginPairing()
	case errors.Is(err, credstore.ErrExpired):
		c.log.Info("Stored credentials expired, falling back to pairing")
		return c.beginPairing()
	default:
		// The link is up but the store is unreadable. Tear the link back
		// down so a later Connect starts from disconnected.
		_ = c.conn.Close("credential load failed")
		c.mu.Lock()
		back, _ := c.transitionLocked(StateDisconnected)
		c.mu.Unlock()
		c.publish(back)
		return fmt.Errorf("load credentials: %w", err)
	}
}

func (c *Client) beginResume(ctx context.Context, creds credstore.Credentials) error {
	c.mu.Lock()
	ev, ok := c.transitionLocked(StateResuming)
	if !ok {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.creds = &creds
	c.mu.Unlock()
	c.publish(ev)

	return c.sendAuth(ctx, true)
}

func (c *Client) beginPairing() error {
	c.mu.Lock()
	ev, ok := c.transitionLocked(StatePairing)
	if !ok {
		from := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: pairing from %s", ErrInvalidTransition, from)
	}
	c.mu.Unlock()

	ch, err := c.pair.Begin()
	if err != nil {
		return err
	}

	c.publish(ev, event.PairingCode{
		SessionID: c.cfg.SessionID,
		Payload:   ch.Payload(),
		Ref:       ch.Ref,
		ExpiresAt: ch.ExpiresAt,
	})
	return nil
}

// PairingPayload returns the outstanding pairing payload, or empty when the
// session is not pairing.
func (c *Client) PairingPayload() string {
	ch := c.pair.Current()
	if ch == nil {
		return ""
	}
	return ch.Payload()
}

// ResolvePairing converts a scan confirmation into session credentials,
// persists them, and proceeds to authentication. Fails closed: a mismatched
// or incomplete scan never partially authenticates.
func (c *Client) ResolvePairing(ctx context.Context, scan pairing.ScanResult) error {
	if c.State() != StatePairing {
		return fmt.Errorf("%w: resolve pairing outside pairing state", ErrInvalidTransition)
	}

	creds, err := c.pair.Resolve(scan)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrExpired):
			return fmt.Errorf("%w: %v", ErrPairingExpired, err)
		case errors.Is(err, pairing.ErrInvalid):
			return fmt.Errorf("%w: %v", ErrPairingInvalid, err)
		default:
			return err
		}
	}

	if err := c.store.Save(ctx, c.cfg.SessionID, creds); err != nil {
		return err
	}

	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()

	return c.sendAuth(ctx, false)
}

// sendAuth binds the codec to the session credentials, transitions to
// authenticating and sends the credential proof. Ready is only entered once
// the remote acks; it is never assumed locally.
func (c *Client) sendAuth(ctx context.Context, resume bool) error {
	c.mu.Lock()
	if c.creds == nil {
		c.mu.Unlock()
		return ErrNotPaired
	}
	codec, err := wire.NewCodec(*c.creds)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.codec = codec
	ev, ok := c.transitionLocked(StateAuthenticating)
	if !ok {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.stopAuthTimerLocked()
	c.authTimer = time.AfterFunc(c.cfg.AuthTimeout, c.onAuthTimeout)
	c.mu.Unlock()
	c.publish(ev)

	payload, err := wire.MarshalPayload(wire.AuthRequest{ClientID: c.cfg.SessionID, Resume: resume})
	if err != nil {
		return err
	}
	frame, err := codec.Encode(wire.Envelope{Kind: wire.KindAuth, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, frame)
}

// Send encodes and transmits one application message, returning its message
// identifier. While the link is down the encoded frame is queued by the
// transport and flushed on the next entry into ready.
func (c *Client) Send(ctx context.Context, target string, body string) (string, error) {
	return c.send(ctx, target, body, "")
}

// SendReply sends a message that references an earlier message, which is how
// reactions travel on the wire.
func (c *Client) SendReply(ctx context.Context, target string, body string, replyTo string) (string, error) {
	return c.send(ctx, target, body, replyTo)
}

func (c *Client) send(ctx context.Context, target string, body string, replyTo string) (string, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	codec := c.codec
	c.mu.Unlock()

	if codec == nil {
		var err error
		codec, err = c.ensureCodec(ctx)
		if err != nil {
			return "", err
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	id := uuid.NewString()
	payload, err := wire.MarshalPayload(wire.Message{ID: id, Target: target, Body: body, ReplyTo: replyTo})
	if err != nil {
		return "", err
	}
	frame, err := codec.Encode(wire.Envelope{Kind: wire.KindMessage, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		return "", err
	}
	if err := c.conn.Send(ctx, frame); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return id, nil
}

// ensureCodec lazily binds the codec from stored credentials so sends issued
// before Connect can be queued. The store enforces expiry on load, keeping
// the codec invariant: no encoding without valid, non-expired credentials.
func (c *Client) ensureCodec(ctx context.Context) (*wire.Codec, error) {
	creds, err := c.store.Load(ctx, c.cfg.SessionID)
	if err != nil {
		if errors.Is(err, credstore.ErrExpired) {
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return nil, ErrNotPaired
	}
	codec, err := wire.NewCodec(creds)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codec == nil {
		c.creds = &creds
		c.codec = codec
	}
	return c.codec, nil
}

// Logout terminates the session and wipes stored credentials. Terminal.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	ev, _ := c.transitionLocked(StateClosed)
	c.stopAuthTimerLocked()
	c.stopRetryTimerLocked()
	c.codec = nil
	c.creds = nil
	c.mu.Unlock()

	c.pair.Stop()
	_ = c.conn.Close("logout")
	err := c.store.Delete(ctx, c.cfg.SessionID)

	c.stopLoop()
	c.publish(ev)
	return err
}

// Shutdown closes the session for process exit without wiping credentials,
// so the next start can resume.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	ev, _ := c.transitionLocked(StateClosed)
	c.stopAuthTimerLocked()
	c.stopRetryTimerLocked()
	c.mu.Unlock()

	c.pair.Stop()
	_ = c.conn.Close("shutdown")
	c.stopLoop()
	c.publish(ev)
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

func (c *Client) startLoop() {
	c.loopOnce.Do(func() {
		go c.runLoop()
	})
}

func (c *Client) stopLoop() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) runLoop() {
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.conn.Frames():
			c.handleFrame(raw)
		case err := <-c.conn.Failures():
			c.handleTransportFailure(err)
		}
	}
}

// handleFrame decodes one inbound frame. A frame that fails validation is
// logged and dropped: it never reaches the dispatcher and never changes
// session state.
func (c *Client) handleFrame(raw []byte) {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()

	if codec == nil {
		c.log.Warn("Dropping inbound frame received before credentials were bound")
		return
	}

	env, err := codec.Decode(raw)
	if err != nil {
		if errors.Is(err, wire.ErrSignatureInvalid) {
			c.log.Warn("Dropping inbound frame with invalid signature")
		} else {
			c.log.Warn("Dropping malformed inbound frame")
		}
		return
	}

	switch env.Kind {
	case wire.KindAuthAck:
		c.onAuthAck()
	case wire.KindAuthReject:
		var rej wire.AuthReject
		_ = wire.UnmarshalPayload(env.Payload, &rej)
		c.fail("auth_failed", ErrAuthFailed, rej.Reason)
	case wire.KindMessage:
		var msg wire.Message
		if err := wire.UnmarshalPayload(env.Payload, &msg); err != nil {
			c.log.Warn("Dropping message envelope with invalid payload")
			return
		}
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
		c.publish(event.MessageReceived{
			SessionID: c.cfg.SessionID,
			MessageID: msg.ID,
			Sender:    msg.Sender,
			Body:      msg.Body,
			Timestamp: env.Timestamp,
		})
	case wire.KindAck:
		var ack wire.Ack
		if err := wire.UnmarshalPayload(env.Payload, &ack); err != nil {
			return
		}
		c.publish(event.MessageAcked{SessionID: c.cfg.SessionID, MessageID: ack.MessageID})
	case wire.KindPresence:
		c.log.Debug("Presence envelope received")
	default:
		c.log.Warnf("Dropping envelope of unknown kind %d", env.Kind)
	}
}

// onAuthAck moves the session into ready. Entry side effects: reset the
// reconnect counter, persist last-used, flush queued sends in original order.
func (c *Client) onAuthAck() {
	c.mu.Lock()
	if c.state != StateAuthenticating {
		c.mu.Unlock()
		return
	}
	c.stopAuthTimerLocked()
	ev, _ := c.transitionLocked(StateReady)
	c.reconnect.Reset()
	now := time.Now()
	c.lastActivity = now
	var creds credstore.Credentials
	if c.creds != nil {
		c.creds.Touch(now)
		creds = *c.creds
	}
	c.mu.Unlock()

	c.publish(ev, event.Ready{SessionID: c.cfg.SessionID})

	if err := c.conn.Flush(context.Background()); err != nil {
		c.log.WithError(err).Warn("Failed to flush queued sends")
	}
	if creds.ClientID != "" {
		if err := c.store.Save(context.Background(), c.cfg.SessionID, creds); err != nil {
			c.log.WithError(err).Warn("Failed to persist credential activity")
		}
	}
}

func (c *Client) onAuthTimeout() {
	c.mu.Lock()
	inAuth := c.state == StateAuthenticating
	c.mu.Unlock()
	if !inAuth {
		return
	}
	c.handleTransportFailure(fmt.Errorf("%w: authentication timed out", ErrConnectionFailed))
}

// handleTransportFailure implements ready→degraded→reconnecting with the
// backoff policy. Retries never overlap: the next connect is armed by a
// single timer and only fires from the reconnecting state.
func (c *Client) handleTransportFailure(cause error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.stopAuthTimerLocked()

	if c.cfg.Reconnect.Exhausted(c.reconnect.Attempts) {
		ev, _ := c.transitionLocked(StateClosed)
		c.mu.Unlock()

		c.pair.Stop()
		_ = c.conn.Close("retries exhausted")
		c.stopLoop()
		c.publish(
			event.Disconnected{SessionID: c.cfg.SessionID, Reason: cause.Error()},
			ev,
			event.SessionError{SessionID: c.cfg.SessionID, Kind: "connection_failed", Detail: "reconnect attempts exhausted: " + cause.Error()},
		)
		return
	}

	evDegraded, _ := c.transitionLocked(StateDegraded)
	evReconnecting, _ := c.transitionLocked(StateReconnecting)
	delay := c.reconnect.Failure(c.cfg.Reconnect, time.Now())
	c.stopRetryTimerLocked()
	c.retryTimer = time.AfterFunc(delay, c.retryConnect)
	attempt := c.reconnect.Attempts
	c.mu.Unlock()

	c.log.WithError(cause).WithField("attempt", attempt).WithField("delay", delay.String()).
		Warn("Transport failed, retry scheduled")
	c.publish(
		event.Disconnected{SessionID: c.cfg.SessionID, Reason: cause.Error()},
		evDegraded,
		evReconnecting,
	)
}

func (c *Client) retryConnect() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.conn.Connect(ctx); err != nil {
		c.handleTransportFailure(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		return
	}

	c.mu.Lock()
	if c.state != StateReconnecting {
		// Logout or Shutdown landed while the dial was in flight. The
		// session is terminal, so the fresh link must not stay open.
		c.mu.Unlock()
		_ = c.conn.Close("session closed during retry")
		return
	}
	hasCreds := c.creds != nil
	c.mu.Unlock()

	if hasCreds {
		if err := c.sendAuth(ctx, true); err != nil {
			c.log.WithError(err).Warn("Re-authentication after reconnect failed")
		}
		return
	}
	if err := c.beginPairing(); err != nil {
		c.log.WithError(err).Warn("Pairing after reconnect failed")
	}
}

// fail closes the session with a terminal error. Credentials are not wiped;
// only logout wipes them.
func (c *Client) fail(kind string, cause error, detail string) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	ev, _ := c.transitionLocked(StateClosed)
	c.stopAuthTimerLocked()
	c.stopRetryTimerLocked()
	c.mu.Unlock()

	c.pair.Stop()
	_ = c.conn.Close(kind)
	c.stopLoop()

	if detail == "" {
		detail = cause.Error()
	}
	c.publish(ev, event.SessionError{SessionID: c.cfg.SessionID, Kind: kind, Detail: detail})
}

// ---------------------------------------------------------------------------
// Transition plumbing
// ---------------------------------------------------------------------------

func (c *Client) transitionLocked(to State) (event.Event, bool) {
	if !canTransition(c.state, to) {
		c.log.Warnf("Refusing illegal transition %s -> %s", c.state, to)
		return nil, false
	}
	old := c.state
	c.state = to
	return event.StateChanged{
		SessionID: c.cfg.SessionID,
		Old:       old.String(),
		New:       to.String(),
	}, true
}

func (c *Client) stopAuthTimerLocked() {
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}

func (c *Client) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) publish(evs ...event.Event) {
	for _, ev := range evs {
		if ev == nil {
			continue
		}
		c.events.Publish(ev)
	}
}
