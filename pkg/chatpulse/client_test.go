package chatpulse

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/chatpulse/chatpulse/pkg/chatpulse/backoff"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/credstore"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/event"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/pairing"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/transport"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/wire"
)

// memStore is a map-backed credential store for tests.
type memStore struct {
	mu      sync.Mutex
	items   map[string]credstore.Credentials
	expired map[string]bool
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{
		items:   make(map[string]credstore.Credentials),
		expired: make(map[string]bool),
	}
}

func (s *memStore) Load(ctx context.Context, sessionID string) (credstore.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return credstore.Credentials{}, s.loadErr
	}
	if s.expired[sessionID] {
		return credstore.Credentials{}, credstore.ErrExpired
	}
	creds, ok := s.items[sessionID]
	if !ok {
		return credstore.Credentials{}, credstore.ErrNotFound
	}
	return creds, nil
}

func (s *memStore) Save(ctx context.Context, sessionID string, creds credstore.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[sessionID] = creds
	return nil
}

func (s *memStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
	return nil
}

func (s *memStore) markExpired(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired[sessionID] = true
}

func (s *memStore) failLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

func freshCredentials(t *testing.T, clientID string) credstore.Credentials {
	t.Helper()
	secret := make([]byte, credstore.SecretSize)
	signingKey := make([]byte, credstore.SigningKeySize)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	_, err = rand.Read(signingKey)
	require.NoError(t, err)
	now := time.Now()
	return credstore.Credentials{
		ClientID:   clientID,
		Secret:     secret,
		SigningKey: signingKey,
		IssuedAt:   now,
		LastUsed:   now,
	}
}

func testConfig(sessionID string) Config {
	return Config{
		SessionID:   sessionID,
		PairingTTL:  time.Minute,
		AuthTimeout: 5 * time.Second,
		Reconnect:   backoff.Policy{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, MaxAttempts: 10},
	}
}

// ackAuth installs a scripted peer that acks every credential proof encoded
// under creds.
func ackAuth(t *testing.T, m *transport.Memory, creds credstore.Credentials) *wire.Codec {
	t.Helper()
	codec, err := wire.NewCodec(creds)
	require.NoError(t, err)

	m.Respond(func(frame []byte) [][]byte {
		env, err := codec.Decode(frame)
		if err != nil || env.Kind != wire.KindAuth {
			return nil
		}
		reply, err := codec.Encode(wire.Envelope{Kind: wire.KindAuthAck, Timestamp: time.Now()})
		if err != nil {
			return nil
		}
		return [][]byte{reply}
	})
	return codec
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, stuck in %s", want, c.State())
}

func TestClient_ResumeToReady(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)

	var transitions []string
	ready := make(chan event.Ready, 1)
	client.Events().OnStateChanged(func(e event.StateChanged) { transitions = append(transitions, e.New) })
	client.Events().OnReady(func(e event.Ready) { ready <- e })

	require.NoError(t, client.Connect(context.Background()))

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	require.Equal(t, StateReady, client.State())
	require.Equal(t, []string{"connecting", "resuming", "authenticating", "ready"}, transitions)

	snap := client.Snapshot()
	require.True(t, snap.IsAuthenticated)
	require.Zero(t, snap.ReconnectAttempts)
}

func TestClient_PairingToReady(t *testing.T) {
	store := newMemStore()
	conn := transport.NewMemory(nil)
	client := NewClient(testConfig("s1"), conn, store, nil)

	codes := make(chan event.PairingCode, 4)
	client.Events().OnPairingCode(func(e event.PairingCode) { codes <- e })

	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, StatePairing, client.State())

	var code event.PairingCode
	select {
	case code = <-codes:
	case <-time.After(time.Second):
		t.Fatal("no pairing code published")
	}
	require.False(t, code.Refreshed)
	require.Equal(t, code.Payload, client.PairingPayload())

	// Play the trusted device: read the client public key from the payload,
	// run the key exchange, and confirm the scan.
	parts := strings.Split(code.Payload, ":")
	require.Len(t, parts, 5)
	require.Equal(t, "CP1", parts[0])

	clientPub, err := base64.StdEncoding.DecodeString(parts[3])
	require.NoError(t, err)
	nonce, err := base64.StdEncoding.DecodeString(parts[4])
	require.NoError(t, err)

	var peerPriv [32]byte
	_, err = rand.Read(peerPriv[:])
	require.NoError(t, err)
	peerPriv[0] &= 248
	peerPriv[31] &= 127
	peerPriv[31] |= 64
	peerPub, err := curve25519.X25519(peerPriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	shared, err := curve25519.X25519(peerPriv[:], clientPub)
	require.NoError(t, err)

	secret := make([]byte, credstore.SecretSize)
	signingKey := make([]byte, credstore.SigningKeySize)
	kdf := hkdf.New(sha256.New, shared, nonce, []byte("chatpulse/v1/pairing"))
	_, err = io.ReadFull(kdf, secret)
	require.NoError(t, err)
	_, err = io.ReadFull(kdf, signingKey)
	require.NoError(t, err)

	peerCreds := credstore.Credentials{
		ClientID:   "s1",
		Secret:     secret,
		SigningKey: signingKey,
		IssuedAt:   time.Now(),
	}
	ackAuth(t, conn, peerCreds)

	scan := pairing.ScanResult{
		ClientID: parts[1],
		Ref:      parts[2],
		PeerKey:  base64.StdEncoding.EncodeToString(peerPub),
		Nonce:    parts[4],
	}
	require.NoError(t, client.ResolvePairing(context.Background(), scan))

	waitState(t, client, StateReady)

	// Pairing persisted the derived credentials.
	saved, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, secret, saved.Secret)
	require.Equal(t, signingKey, saved.SigningKey)
}

func TestClient_ResolvePairingOutsidePairingState(t *testing.T) {
	client := NewClient(testConfig("s1"), transport.NewMemory(nil), newMemStore(), nil)
	err := client.ResolvePairing(context.Background(), pairing.ScanResult{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestClient_ExpiredCredentialsFallBackToPairing(t *testing.T) {
	store := newMemStore()
	store.markExpired("s1")

	conn := transport.NewMemory(nil)
	client := NewClient(testConfig("s1"), conn, store, nil)

	codes := make(chan event.PairingCode, 1)
	client.Events().OnPairingCode(func(e event.PairingCode) { codes <- e })

	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, StatePairing, client.State())

	select {
	case <-codes:
	case <-time.After(time.Second):
		t.Fatal("expected a pairing code after expired credentials")
	}
}

func TestClient_StoreLoadErrorRollsBackToDisconnected(t *testing.T) {
	store := newMemStore()
	store.failLoad(errors.New("disk read failed"))

	conn := transport.NewMemory(nil)
	client := NewClient(testConfig("s1"), conn, store, nil)
	ctx := context.Background()

	err := client.Connect(ctx)
	require.Error(t, err)
	require.ErrorContains(t, err, "disk read failed")
	require.Equal(t, StateDisconnected, client.State())
	require.False(t, conn.Connected())

	// Once the store recovers, Connect works again instead of tripping on
	// a stale connecting state.
	store.failLoad(nil)
	require.NoError(t, client.Connect(ctx))
	waitState(t, client, StatePairing)
}

func TestClient_QueuedSendsFlushInOrder(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	peerCodec := ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	ctx := context.Background()

	// Sends before Connect are encoded and queued by the transport.
	id1, err := client.Send(ctx, "acct:alice", "first")
	require.NoError(t, err)
	id2, err := client.Send(ctx, "acct:alice", "second")
	require.NoError(t, err)
	require.Equal(t, 2, client.Snapshot().QueuedSends)

	require.NoError(t, client.Connect(ctx))
	waitState(t, client, StateReady)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(conn.Sent()) < 3 {
		time.Sleep(2 * time.Millisecond)
	}

	// Credential proof first, then the queued messages in submit order.
	sent := conn.Sent()
	require.Len(t, sent, 3)

	var ids []string
	for _, frame := range sent[1:] {
		env, err := peerCodec.Decode(frame)
		require.NoError(t, err)
		require.Equal(t, wire.KindMessage, env.Kind)
		var msg wire.Message
		require.NoError(t, wire.UnmarshalPayload(env.Payload, &msg))
		ids = append(ids, msg.ID)
	}
	require.Equal(t, []string{id1, id2}, ids)
	require.Zero(t, client.Snapshot().QueuedSends)
}

func TestClient_SendWithoutCredentials(t *testing.T) {
	client := NewClient(testConfig("s1"), transport.NewMemory(nil), newMemStore(), nil)
	_, err := client.Send(context.Background(), "acct:alice", "hello")
	require.ErrorIs(t, err, ErrNotPaired)
}

func TestClient_SendWithExpiredCredentials(t *testing.T) {
	store := newMemStore()
	store.markExpired("s1")
	client := NewClient(testConfig("s1"), transport.NewMemory(nil), store, nil)

	_, err := client.Send(context.Background(), "acct:alice", "hello")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestClient_SendReplyCarriesReference(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	peerCodec := ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx))
	waitState(t, client, StateReady)

	_, err := client.SendReply(ctx, "acct:alice", "👍", "msg-42")
	require.NoError(t, err)

	sent := conn.Sent()
	env, err := peerCodec.Decode(sent[len(sent)-1])
	require.NoError(t, err)
	var msg wire.Message
	require.NoError(t, wire.UnmarshalPayload(env.Payload, &msg))
	require.Equal(t, "msg-42", msg.ReplyTo)
	require.Equal(t, "👍", msg.Body)
}

func TestClient_MalformedInboundFramesDropped(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	peerCodec := ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	messages := make(chan event.MessageReceived, 4)
	client.Events().OnMessageReceived(func(e event.MessageReceived) { messages <- e })

	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	// Garbage, then a tampered but well-framed message.
	conn.Inject([]byte("not a frame"))
	payload, err := wire.MarshalPayload(wire.Message{ID: "m1", Body: "hi"})
	require.NoError(t, err)
	frame, err := peerCodec.Encode(wire.Envelope{Kind: wire.KindMessage, Timestamp: time.Now(), Payload: payload})
	require.NoError(t, err)
	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF
	conn.Inject(tampered)

	// A valid frame after the bad ones still goes through: the session
	// survives bad frames without any state change.
	conn.Inject(frame)

	select {
	case got := <-messages:
		require.Equal(t, "m1", got.MessageID)
	case <-time.After(time.Second):
		t.Fatal("valid message never delivered")
	}
	require.Empty(t, messages)
	require.Equal(t, StateReady, client.State())
}

func TestClient_InboundMessageAndAck(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	peerCodec := ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	messages := make(chan event.MessageReceived, 1)
	acks := make(chan event.MessageAcked, 1)
	client.Events().OnMessageReceived(func(e event.MessageReceived) { messages <- e })
	client.Events().OnMessageAcked(func(e event.MessageAcked) { acks <- e })

	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	payload, err := wire.MarshalPayload(wire.Message{ID: "m1", Sender: "acct:bob", Body: "hello"})
	require.NoError(t, err)
	frame, err := peerCodec.Encode(wire.Envelope{Kind: wire.KindMessage, Timestamp: time.Now(), Payload: payload})
	require.NoError(t, err)
	conn.Inject(frame)

	ackPayload, err := wire.MarshalPayload(wire.Ack{MessageID: "out-1"})
	require.NoError(t, err)
	ackFrame, err := peerCodec.Encode(wire.Envelope{Kind: wire.KindAck, Timestamp: time.Now(), Payload: ackPayload})
	require.NoError(t, err)
	conn.Inject(ackFrame)

	select {
	case got := <-messages:
		require.Equal(t, "acct:bob", got.Sender)
		require.Equal(t, "hello", got.Body)
	case <-time.After(time.Second):
		t.Fatal("inbound message never delivered")
	}
	select {
	case got := <-acks:
		require.Equal(t, "out-1", got.MessageID)
	case <-time.After(time.Second):
		t.Fatal("ack never delivered")
	}
}

func TestClient_ReconnectResetsAttempts(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	disconnects := make(chan event.Disconnected, 1)
	client.Events().OnDisconnected(func(e event.Disconnected) { disconnects <- e })

	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	conn.DropLink(io.ErrUnexpectedEOF)

	select {
	case ev := <-disconnects:
		require.Contains(t, ev.Reason, "unexpected EOF")
	case <-time.After(time.Second):
		t.Fatal("disconnect never reported")
	}

	// The retry timer reconnects and re-authenticates on its own.
	waitState(t, client, StateReady)
	require.Zero(t, client.Snapshot().ReconnectAttempts)
}

func TestClient_ShutdownDuringRetryDialLeavesLinkClosed(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	// Park the retry dial so Shutdown lands while it is in flight.
	dialing := make(chan struct{})
	release := make(chan struct{})
	conn.HookConnect(func() {
		close(dialing)
		<-release
	})

	conn.DropLink(io.ErrUnexpectedEOF)

	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("retry dial never started")
	}

	client.Shutdown()
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for conn.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("transport link left open after shutdown")
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, StateClosed, client.State())
}

func TestClient_TerminalCloseWhenRetriesExhausted(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	ackAuth(t, conn, creds)

	cfg := testConfig("s1")
	cfg.Reconnect.MaxAttempts = 2
	client := NewClient(cfg, conn, store, nil)

	errs := make(chan event.SessionError, 1)
	client.Events().OnSessionError(func(e event.SessionError) { errs <- e })

	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	// Every retry connect fails until the ceiling is hit.
	conn.FailConnects(io.ErrUnexpectedEOF, io.ErrUnexpectedEOF, io.ErrUnexpectedEOF)
	conn.DropLink(io.ErrUnexpectedEOF)

	select {
	case ev := <-errs:
		require.Equal(t, "connection_failed", ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("session never reported terminal failure")
	}
	require.Equal(t, StateClosed, client.State())

	// Exhaustion closes the session but never wipes credentials.
	_, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
}

func TestClient_AuthRejectClosesWithoutWipe(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	codec, err := wire.NewCodec(creds)
	require.NoError(t, err)
	conn.Respond(func(frame []byte) [][]byte {
		env, err := codec.Decode(frame)
		if err != nil || env.Kind != wire.KindAuth {
			return nil
		}
		payload, _ := wire.MarshalPayload(wire.AuthReject{Reason: "credentials revoked"})
		reply, err := codec.Encode(wire.Envelope{Kind: wire.KindAuthReject, Timestamp: time.Now(), Payload: payload})
		if err != nil {
			return nil
		}
		return [][]byte{reply}
	})

	client := NewClient(testConfig("s1"), conn, store, nil)
	errs := make(chan event.SessionError, 1)
	client.Events().OnSessionError(func(e event.SessionError) { errs <- e })

	require.NoError(t, client.Connect(context.Background()))

	select {
	case ev := <-errs:
		require.Equal(t, "auth_failed", ev.Kind)
		require.Equal(t, "credentials revoked", ev.Detail)
	case <-time.After(2 * time.Second):
		t.Fatal("auth rejection never surfaced")
	}
	require.Equal(t, StateClosed, client.State())

	_, err = store.Load(context.Background(), "s1")
	require.NoError(t, err)

	// The terminal state is sticky: a plain Connect reports it instead of
	// pretending to resume.
	require.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
}

func TestClient_LogoutWipesCredentials(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	require.NoError(t, client.Logout(context.Background()))
	require.Equal(t, StateClosed, client.State())

	_, err := store.Load(context.Background(), "s1")
	require.ErrorIs(t, err, credstore.ErrNotFound)

	// Terminal: nothing works after close.
	require.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
	_, err = client.Send(context.Background(), "acct:alice", "hello")
	require.ErrorIs(t, err, ErrClosed)
}

func TestClient_ShutdownKeepsCredentials(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	client.Shutdown()
	require.Equal(t, StateClosed, client.State())

	_, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
}

func TestClient_ConnectWhileConnected(t *testing.T) {
	store := newMemStore()
	creds := freshCredentials(t, "s1")
	require.NoError(t, store.Save(context.Background(), "s1", creds))

	conn := transport.NewMemory(nil)
	ackAuth(t, conn, creds)

	client := NewClient(testConfig("s1"), conn, store, nil)
	require.NoError(t, client.Connect(context.Background()))
	waitState(t, client, StateReady)

	require.ErrorIs(t, client.Connect(context.Background()), ErrInvalidTransition)
}

func TestClient_ConnectFailureReturnsToDisconnected(t *testing.T) {
	conn := transport.NewMemory(nil)
	conn.FailConnects(io.ErrUnexpectedEOF)

	client := NewClient(testConfig("s1"), conn, newMemStore(), nil)
	err := client.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.Equal(t, StateDisconnected, client.State())

	// A later connect attempt starts clean.
	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, StatePairing, client.State())
}

func TestCanTransition(t *testing.T) {
	require.True(t, canTransition(StateDisconnected, StateConnecting))
	require.True(t, canTransition(StateReady, StateDegraded))
	require.True(t, canTransition(StateDegraded, StateReconnecting))
	require.True(t, canTransition(StateReady, StateClosed))

	require.False(t, canTransition(StateReady, StateConnecting))
	require.False(t, canTransition(StateClosed, StateConnecting))
	require.False(t, canTransition(StateClosed, StateClosed))
	require.False(t, canTransition(StateDisconnected, StateReady))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "unknown", State(99).String())
}
