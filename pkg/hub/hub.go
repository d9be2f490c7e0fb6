// Package hub owns the live ChatPulse session clients: one client per
// session ID, constructed from environment configuration, with dispatcher
// events fanned out to the registry and the webhook engine.
package hub

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	qrCode "github.com/skip2/go-qrcode"

	"github.com/chatpulse/chatpulse/internal/registry"
	"github.com/chatpulse/chatpulse/internal/webhook"
	"github.com/chatpulse/chatpulse/pkg/chatpulse"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/credstore"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/event"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/pairing"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/transport"
	"github.com/chatpulse/chatpulse/pkg/env"
	"github.com/chatpulse/chatpulse/pkg/log"
)

var (
	sessionsMu sync.RWMutex
	sessions   = make(map[string]*chatpulse.Client)

	serverAddress string
	credentials   credstore.Store
	webhookEngine *webhook.Engine

	ErrSessionNotFound = errors.New("ChatPulse session is not initialized")
	ErrSessionNotReady = errors.New("ChatPulse session is not ready")
)

const statusUpdateTimeout = 5 * time.Second

func init() {
	serverAddress = env.MustGetEnvString("CHATPULSE_SERVER_ADDRESS")
	storeKey := env.MustGetEnvString("CHATPULSE_STORE_KEY")

	ttl := env.GetEnvDurationOrDefault("CHATPULSE_CREDENTIAL_TTL", credstore.DefaultTTL)

	storeType := env.GetEnvStringOrDefault("CHATPULSE_STORE_TYPE", "file")
	switch storeType {
	case "postgres":
		db, err := registry.Open()
		if err != nil {
			log.Print(nil).WithError(err).Fatal("Failed to open credential datastore")
		}
		store, err := credstore.NewPGStore(context.Background(), db, storeKey, ttl)
		if err != nil {
			log.Print(nil).WithError(err).Fatal("Failed to initialize credential datastore")
		}
		credentials = store
	case "file":
		dir := env.GetEnvStringOrDefault("CHATPULSE_STORE_DIR", "./data/credentials")
		credentials = credstore.NewFileStore(dir, storeKey, ttl)
	default:
		log.Print(nil).Fatal("Unsupported CHATPULSE_STORE_TYPE: " + storeType)
	}

	db, err := registry.Open()
	if err != nil {
		log.Print(nil).WithError(err).Fatal("Failed to open registry datastore for webhooks")
	}
	webhookEngine = webhook.NewEngine(webhook.NewStore(db))

	log.Print(nil).Info("Session hub initialized with " + storeType + " credential store")
}

func getSession(sessionID string) *chatpulse.Client {
	sessionsMu.RLock()
	client := sessions[sessionID]
	sessionsMu.RUnlock()
	return client
}

func setSession(sessionID string, client *chatpulse.Client) {
	sessionsMu.Lock()
	sessions[sessionID] = client
	sessionsMu.Unlock()
}

func deleteSession(sessionID string) {
	sessionsMu.Lock()
	delete(sessions, sessionID)
	sessionsMu.Unlock()
}

// SessionsLen reports the number of live session clients.
func SessionsLen() int {
	sessionsMu.RLock()
	defer sessionsMu.RUnlock()
	return len(sessions)
}

// RangeSessions calls fn for every live session client.
func RangeSessions(fn func(sessionID string, client *chatpulse.Client)) {
	sessionsMu.RLock()
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sessionsMu.RUnlock()
	for _, id := range ids {
		if client := getSession(id); client != nil {
			fn(id, client)
		}
	}
}

// SweepExpiredCredentials walks the file-backed credential store and
// removes entries past their inactivity TTL. Loading an expired entry
// surfaces credstore.ErrExpired, which is the deletion trigger. The
// postgres store expires rows on load and needs no sweep.
func SweepExpiredCredentials(ctx context.Context) int {
	fs, ok := credentials.(*credstore.FileStore)
	if !ok {
		return 0
	}

	ids, err := fs.Sessions()
	if err != nil {
		log.SysErr("credential-sweep", err)
		return 0
	}

	removed := 0
	for _, id := range ids {
		_, err := fs.Load(ctx, id)
		if errors.Is(err, credstore.ErrExpired) {
			if err := fs.Delete(ctx, id); err != nil {
				log.SysErr("credential-sweep", err)
				continue
			}
			log.Session(id).Info("Removed expired credentials")
			removed++
		}
	}
	return removed
}

func maskSessionForLog(sessionID string) string {
	if len(sessionID) < 4 {
		return sessionID
	}
	return sessionID[0:len(sessionID)-4] + "xxxx"
}

// InitSession ensures a client exists for the session ID, constructing it
// with a websocket transport when absent.
func InitSession(sessionID string) *chatpulse.Client {
	if client := getSession(sessionID); client != nil {
		return client
	}

	logger := log.Session(sessionID)
	conn := transport.NewWebSocket(transport.Config{Address: serverAddress}, logger)
	client := chatpulse.NewClient(chatpulse.ConfigFromEnv(sessionID), conn, credentials, logger)

	bindEvents(sessionID, client)
	setSession(sessionID, client)
	return client
}

// bindEvents fans dispatcher events out to the registry status column and the
// webhook engine.
func bindEvents(sessionID string, client *chatpulse.Client) {
	events := client.Events()

	events.OnStateChanged(func(ev event.StateChanged) {
		updateRegistryStatus(sessionID, ev.New)
		if ev.New == chatpulse.StateClosed.String() {
			deleteSession(sessionID)
			dispatch(sessionID, webhook.EventSessionClosed, map[string]interface{}{
				"old_state": ev.Old,
			})
		}
	})

	events.OnPairingCode(func(ev event.PairingCode) {
		dispatch(sessionID, webhook.EventSessionPairing, map[string]interface{}{
			"ref":        ev.Ref,
			"expires_at": ev.ExpiresAt.Unix(),
			"refreshed":  ev.Refreshed,
		})
	})

	events.OnReady(func(ev event.Ready) {
		log.Session(sessionID).Info("Session ready: " + maskSessionForLog(sessionID))
		dispatch(sessionID, webhook.EventSessionReady, map[string]interface{}{})
	})

	events.OnMessageReceived(func(ev event.MessageReceived) {
		dispatch(sessionID, webhook.EventMessageReceived, map[string]interface{}{
			"message_id": ev.MessageID,
			"sender":     ev.Sender,
			"body":       ev.Body,
			"timestamp":  ev.Timestamp.Unix(),
		})
	})

	events.OnMessageAcked(func(ev event.MessageAcked) {
		dispatch(sessionID, webhook.EventMessageAcked, map[string]interface{}{
			"message_id": ev.MessageID,
		})
	})

	events.OnDisconnected(func(ev event.Disconnected) {
		log.Session(sessionID).Warn("Session disconnected: " + maskSessionForLog(sessionID))
		dispatch(sessionID, webhook.EventSessionDisconnected, map[string]interface{}{
			"reason": ev.Reason,
		})
	})

	events.OnSessionError(func(ev event.SessionError) {
		log.Session(sessionID).Error("Session error (" + ev.Kind + "): " + ev.Detail)
		dispatch(sessionID, webhook.EventSessionError, map[string]interface{}{
			"kind":   ev.Kind,
			"detail": ev.Detail,
		})
	})
}

func updateRegistryStatus(sessionID string, state string) {
	var status string
	switch state {
	case chatpulse.StateReady.String():
		status = "active"
	case chatpulse.StateClosed.String():
		status = "closed"
	case chatpulse.StateDegraded.String(), chatpulse.StateReconnecting.String():
		status = "disconnected"
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
	defer cancel()
	if err := registry.UpdateSessionStatus(ctx, sessionID, status); err != nil {
		log.SysErr("registry-status", err)
	}
}

func dispatch(sessionID string, eventType webhook.EventType, data map[string]interface{}) {
	if webhookEngine == nil {
		return
	}
	webhookEngine.Dispatch(context.Background(), sessionID, webhook.WebhookEvent{
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// GetWebhookEngine exposes the shared delivery engine to the controllers.
func GetWebhookEngine() *webhook.Engine {
	return webhookEngine
}

func currentSession(sessionID string) (*chatpulse.Client, error) {
	client := getSession(sessionID)
	if client == nil {
		return nil, ErrSessionNotFound
	}
	return client, nil
}

// Login connects the session and returns the pairing QR as a base64 PNG data
// URI plus its remaining validity in seconds. A session that resumed from
// stored credentials returns no QR. A closed session reports ErrClosed; it
// must go through Reconnect to get a fresh client.
func Login(ctx context.Context, sessionID string) (string, int, error) {
	client := InitSession(sessionID)

	switch client.State() {
	case chatpulse.StateClosed:
		return "", 0, chatpulse.ErrClosed
	case chatpulse.StateDisconnected:
		if err := client.Connect(ctx); err != nil {
			return "", 0, err
		}
	}

	if client.State() != chatpulse.StatePairing {
		return "", 0, nil
	}

	payload := client.PairingPayload()
	if payload == "" {
		return "", 0, errors.New("pairing payload is not available")
	}

	qrPNG, err := qrCode.Encode(payload, qrCode.Medium, 256)
	if err != nil {
		return "", 0, err
	}

	timeout := int(env.GetEnvDurationOrDefault("CHATPULSE_PAIRING_TTL", pairing.DefaultTTL).Seconds())
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrPNG), timeout, nil
}

// ResolvePair completes pairing from a scan confirmation.
func ResolvePair(ctx context.Context, sessionID string, scan pairing.ScanResult) error {
	client, err := currentSession(sessionID)
	if err != nil {
		return err
	}
	return client.ResolvePairing(ctx, scan)
}

// Reconnect tears down a closed client and reconnects from stored
// credentials.
func Reconnect(ctx context.Context, sessionID string) error {
	client := getSession(sessionID)
	if client != nil && client.State() != chatpulse.StateClosed {
		return nil
	}
	if client != nil {
		deleteSession(sessionID)
	}
	return InitSession(sessionID).Connect(ctx)
}

// Logout terminates the session and wipes its stored credentials.
func Logout(ctx context.Context, sessionID string) error {
	client, err := currentSession(sessionID)
	if err != nil {
		return err
	}
	return client.Logout(ctx)
}

// Shutdown closes the session without wiping credentials.
func Shutdown(sessionID string) {
	if client := getSession(sessionID); client != nil {
		client.Shutdown()
	}
}

// Status returns a point-in-time snapshot of the session.
func Status(sessionID string) (chatpulse.Snapshot, error) {
	client, err := currentSession(sessionID)
	if err != nil {
		return chatpulse.Snapshot{}, err
	}
	return client.Snapshot(), nil
}

// IsSessionReady reports whether the session can exchange messages.
func IsSessionReady(sessionID string) error {
	client, err := currentSession(sessionID)
	if err != nil {
		return err
	}
	if client.State() != chatpulse.StateReady {
		return ErrSessionNotReady
	}
	return nil
}

// SendText sends one text message and returns its message ID.
func SendText(ctx context.Context, sessionID string, target string, body string) (string, error) {
	client, err := currentSession(sessionID)
	if err != nil {
		return "", err
	}
	return client.Send(ctx, target, body)
}

// SendReaction sends a single-emoji reaction referencing an earlier message.
func SendReaction(ctx context.Context, sessionID string, target string, messageID string, emoji string) (string, error) {
	client, err := currentSession(sessionID)
	if err != nil {
		return "", err
	}
	return client.SendReply(ctx, target, emoji, messageID)
}
