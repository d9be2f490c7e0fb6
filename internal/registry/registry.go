// Package registry is the Postgres-backed control-plane state: customer API
// keys, session rows, JWT versions for token revocation, and admin stats.
// Protocol credentials are not stored here; the credential store owns those.
package registry

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chatpulse/chatpulse/pkg/env"
)

// APIKey represents a customer API key.
type APIKey struct {
	ID               int64      `json:"id"`
	APIKey           string     `json:"api_key"`
	CustomerName     string     `json:"customer_name"`
	CustomerEmail    string     `json:"customer_email"`
	MaxSessions      int        `json:"max_sessions"`
	RateLimitPerHour int        `json:"rate_limit_per_hour"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// Session represents one registered ChatPulse session.
type Session struct {
	SessionID     string     `json:"session_id"`
	APIKeyID      int64      `json:"api_key_id,omitempty"`
	SessionSecret string     `json:"session_secret,omitempty"` // Only returned on creation
	SessionName   string     `json:"session_name,omitempty"`
	Status        string     `json:"status"` // pending, active, disconnected, closed
	JWTVersion    int        `json:"jwt_version,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastActiveAt  *time.Time `json:"last_active_at,omitempty"`
}

var (
	registryDB   *sql.DB
	registryOnce sync.Once
	registryErr  error

	// JWT version cache, checked on every authenticated request.
	jwtVersionCache    = make(map[string]jwtVersionCacheEntry)
	jwtVersionCacheMu  sync.RWMutex
	jwtVersionCacheTTL = 30 * time.Second

	// API key cache, checked on session creation requests.
	apiKeyCache    = make(map[string]apiKeyCacheEntry)
	apiKeyCacheMu  sync.RWMutex
	apiKeyCacheTTL = 5 * time.Minute
)

type jwtVersionCacheEntry struct {
	version   int
	expiresAt time.Time
}

type apiKeyCacheEntry struct {
	apiKey    *APIKey
	expiresAt time.Time
}

// Open returns the shared registry DB handle, opening and bootstrapping the
// schema on first use.
func Open() (*sql.DB, error) {
	registryOnce.Do(func() {
		dsn, err := env.GetEnvString("CHATPULSE_DATASTORE_URI")
		if err != nil {
			registryErr = errors.New("registry datastore configuration not initialized")
			return
		}

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			registryErr = err
			return
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
		db.SetConnMaxIdleTime(3 * time.Minute)
		if err = db.Ping(); err != nil {
			registryErr = err
			return
		}

		if err := bootstrapSchema(db); err != nil {
			registryErr = err
			return
		}

		registryDB = db
	})
	return registryDB, registryErr
}

func bootstrapSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cp_api_keys (
			id SERIAL PRIMARY KEY,
			api_key VARCHAR(64) UNIQUE NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			customer_email VARCHAR(255) NOT NULL,
			max_sessions INT DEFAULT 1,
			rate_limit_per_hour INT DEFAULT 1000,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cp_api_keys_key ON cp_api_keys(api_key)`,
		`CREATE TABLE IF NOT EXISTS cp_sessions (
			session_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			api_key_id INT REFERENCES cp_api_keys(id) ON DELETE CASCADE,
			session_secret VARCHAR(64) NOT NULL,
			session_name VARCHAR(255),
			status VARCHAR(20) DEFAULT 'pending',
			jwt_version INT DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_active_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cp_sessions_api_key ON cp_sessions(api_key_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cp_sessions_secret ON cp_sessions(session_id, session_secret)`,
		`CREATE TABLE IF NOT EXISTS cp_webhooks (
			id SERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			events JSONB NOT NULL DEFAULT '["message.received","session.ready","session.disconnected"]'::jsonb,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cp_webhooks_session ON cp_webhooks(session_id)`,
		`CREATE TABLE IF NOT EXISTS cp_webhook_deliveries (
			id BIGSERIAL PRIMARY KEY,
			webhook_id INTEGER NOT NULL REFERENCES cp_webhooks(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cp_webhook_deliveries_webhook ON cp_webhook_deliveries(webhook_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GenerateAPIKey generates a new API key with prefix "cpk_".
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 14) // 28 hex chars
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "cpk_" + hex.EncodeToString(bytes), nil
}

// GenerateSessionSecret generates a 64-char hex session secret.
func GenerateSessionSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateAPIKey creates a new API key for a customer.
func CreateAPIKey(ctx context.Context, customerName, customerEmail string, maxSessions, rateLimitPerHour int) (*APIKey, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	apiKey, err := GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	if maxSessions <= 0 {
		maxSessions = 1
	}
	if rateLimitPerHour <= 0 {
		rateLimitPerHour = 1000
	}

	var id int64
	var createdAt time.Time
	err = db.QueryRowContext(ctx, `
		INSERT INTO cp_api_keys (api_key, customer_name, customer_email, max_sessions, rate_limit_per_hour)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, apiKey, customerName, customerEmail, maxSessions, rateLimitPerHour).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &APIKey{
		ID:               id,
		APIKey:           apiKey,
		CustomerName:     customerName,
		CustomerEmail:    customerEmail,
		MaxSessions:      maxSessions,
		RateLimitPerHour: rateLimitPerHour,
		IsActive:         true,
		CreatedAt:        createdAt,
	}, nil
}

// GetAPIKeyByKey retrieves an API key by its key string (with caching).
func GetAPIKeyByKey(ctx context.Context, apiKey string) (*APIKey, error) {
	apiKeyCacheMu.RLock()
	if entry, ok := apiKeyCache[apiKey]; ok && time.Now().Before(entry.expiresAt) {
		apiKeyCacheMu.RUnlock()
		return entry.apiKey, nil
	}
	apiKeyCacheMu.RUnlock()

	db, err := Open()
	if err != nil {
		return nil, err
	}

	var ak APIKey
	var email sql.NullString
	var updatedAt sql.NullTime
	err = db.QueryRowContext(ctx, `
		SELECT id, api_key, customer_name, customer_email, max_sessions, rate_limit_per_hour, is_active, created_at, updated_at
		FROM cp_api_keys WHERE api_key = $1
	`, apiKey).Scan(&ak.ID, &ak.APIKey, &ak.CustomerName, &email, &ak.MaxSessions, &ak.RateLimitPerHour, &ak.IsActive, &ak.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("API key not found")
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		ak.CustomerEmail = email.String
	}
	if updatedAt.Valid {
		ak.UpdatedAt = &updatedAt.Time
	}

	apiKeyCacheMu.Lock()
	apiKeyCache[apiKey] = apiKeyCacheEntry{
		apiKey:    &ak,
		expiresAt: time.Now().Add(apiKeyCacheTTL),
	}
	apiKeyCacheMu.Unlock()

	return &ak, nil
}

// InvalidateAPIKeyCache removes an API key from cache. Call this when the key
// is updated or deleted.
func InvalidateAPIKeyCache(apiKey string) {
	apiKeyCacheMu.Lock()
	delete(apiKeyCache, apiKey)
	apiKeyCacheMu.Unlock()
}

// ListAPIKeys retrieves all API keys.
func ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, api_key, customer_name, customer_email, max_sessions, rate_limit_per_hour, is_active, created_at, updated_at
		FROM cp_api_keys ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var ak APIKey
		var email sql.NullString
		var updatedAt sql.NullTime
		if err := rows.Scan(&ak.ID, &ak.APIKey, &ak.CustomerName, &email, &ak.MaxSessions, &ak.RateLimitPerHour, &ak.IsActive, &ak.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		if email.Valid {
			ak.CustomerEmail = email.String
		}
		if updatedAt.Valid {
			ak.UpdatedAt = &updatedAt.Time
		}
		keys = append(keys, ak)
	}
	return keys, rows.Err()
}

// DeleteAPIKey deletes an API key and all associated sessions.
func DeleteAPIKey(ctx context.Context, id int64) error {
	db, err := Open()
	if err != nil {
		return err
	}

	var apiKeyStr string
	_ = db.QueryRowContext(ctx, `SELECT api_key FROM cp_api_keys WHERE id = $1`, id).Scan(&apiKeyStr)
	if apiKeyStr != "" {
		InvalidateAPIKeyCache(apiKeyStr)
	}

	_, err = db.ExecContext(ctx, `DELETE FROM cp_api_keys WHERE id = $1`, id)
	return err
}

// CountSessionsByAPIKey returns the number of sessions for an API key.
func CountSessionsByAPIKey(ctx context.Context, apiKeyID int64) (int, error) {
	db, err := Open()
	if err != nil {
		return 0, err
	}

	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_sessions WHERE api_key_id = $1`, apiKeyID).Scan(&count)
	return count, err
}

// CreateSession registers a new session for an API key, enforcing the key's
// session limit.
func CreateSession(ctx context.Context, apiKeyID int64, sessionName string) (*Session, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	var maxSessions, currentCount int
	err = db.QueryRowContext(ctx, `SELECT max_sessions FROM cp_api_keys WHERE id = $1 AND is_active = TRUE`, apiKeyID).Scan(&maxSessions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("API key not found or inactive")
	}
	if err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_sessions WHERE api_key_id = $1`, apiKeyID).Scan(&currentCount)
	if err != nil {
		return nil, err
	}
	if currentCount >= maxSessions {
		return nil, fmt.Errorf("session limit reached: %d/%d", currentCount, maxSessions)
	}

	secret, err := GenerateSessionSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}

	var sessionID string
	var createdAt time.Time
	err = db.QueryRowContext(ctx, `
		INSERT INTO cp_sessions (api_key_id, session_secret, session_name, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING session_id, created_at
	`, apiKeyID, secret, sessionName).Scan(&sessionID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		SessionID:     sessionID,
		APIKeyID:      apiKeyID,
		SessionSecret: secret,
		SessionName:   sessionName,
		Status:        "pending",
		JWTVersion:    1,
		CreatedAt:     createdAt,
	}, nil
}

// ValidateSessionCredentials validates session_id and session_secret, and
// returns the session row with its jwt_version.
func ValidateSessionCredentials(ctx context.Context, sessionID, sessionSecret string) (*Session, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	var s Session
	var name sql.NullString
	var lastActive sql.NullTime

	err = db.QueryRowContext(ctx, `
		SELECT s.session_id, s.api_key_id, s.session_name, s.status, s.jwt_version, s.created_at, s.last_active_at
		FROM cp_sessions s
		JOIN cp_api_keys a ON s.api_key_id = a.id
		WHERE s.session_id = $1 AND s.session_secret = $2 AND a.is_active = TRUE
	`, sessionID, sessionSecret).Scan(&s.SessionID, &s.APIKeyID, &name, &s.Status, &s.JWTVersion, &s.CreatedAt, &lastActive)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("invalid session credentials")
	}
	if err != nil {
		return nil, err
	}

	if name.Valid {
		s.SessionName = name.String
	}
	if lastActive.Valid {
		s.LastActiveAt = &lastActive.Time
	}

	_, _ = db.ExecContext(ctx, `UPDATE cp_sessions SET last_active_at = NOW() WHERE session_id = $1`, sessionID)

	return &s, nil
}

// GetSessionJWTVersion gets the current jwt_version for a session (with
// caching; this runs on every authenticated request).
func GetSessionJWTVersion(ctx context.Context, sessionID string) (int, error) {
	jwtVersionCacheMu.RLock()
	if entry, ok := jwtVersionCache[sessionID]; ok && time.Now().Before(entry.expiresAt) {
		jwtVersionCacheMu.RUnlock()
		return entry.version, nil
	}
	jwtVersionCacheMu.RUnlock()

	db, err := Open()
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRowContext(ctx, `SELECT jwt_version FROM cp_sessions WHERE session_id = $1`, sessionID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("session not found")
	}
	if err != nil {
		return 0, err
	}

	jwtVersionCacheMu.Lock()
	jwtVersionCache[sessionID] = jwtVersionCacheEntry{
		version:   version,
		expiresAt: time.Now().Add(jwtVersionCacheTTL),
	}
	jwtVersionCacheMu.Unlock()

	return version, nil
}

// InvalidateJWTVersionCache removes a session from the JWT version cache.
// Call this when a token is revoked or regenerated.
func InvalidateJWTVersionCache(sessionID string) {
	jwtVersionCacheMu.Lock()
	delete(jwtVersionCache, sessionID)
	jwtVersionCacheMu.Unlock()
}

// IncrementSessionJWTVersion increments the jwt_version and returns the new
// version, revoking all previously issued tokens for the session.
func IncrementSessionJWTVersion(ctx context.Context, sessionID string) (int, error) {
	db, err := Open()
	if err != nil {
		return 0, err
	}

	var newVersion int
	err = db.QueryRowContext(ctx, `
		UPDATE cp_sessions SET jwt_version = jwt_version + 1, last_active_at = NOW()
		WHERE session_id = $1
		RETURNING jwt_version
	`, sessionID).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("session not found")
	}
	if err != nil {
		return newVersion, err
	}

	InvalidateJWTVersionCache(sessionID)

	return newVersion, nil
}

// GetSessionByID retrieves a session by ID.
func GetSessionByID(ctx context.Context, sessionID string) (*Session, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	var s Session
	var apiKeyID sql.NullInt64
	var name sql.NullString
	var lastActive sql.NullTime

	err = db.QueryRowContext(ctx, `
		SELECT session_id, api_key_id, session_name, status, created_at, last_active_at
		FROM cp_sessions WHERE session_id = $1
	`, sessionID).Scan(&s.SessionID, &apiKeyID, &name, &s.Status, &s.CreatedAt, &lastActive)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("session not found")
	}
	if err != nil {
		return nil, err
	}

	if apiKeyID.Valid {
		s.APIKeyID = apiKeyID.Int64
	}
	if name.Valid {
		s.SessionName = name.String
	}
	if lastActive.Valid {
		s.LastActiveAt = &lastActive.Time
	}

	return &s, nil
}

// ListSessionsByAPIKey lists all sessions for an API key.
func ListSessionsByAPIKey(ctx context.Context, apiKeyID int64) ([]Session, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT session_id, api_key_id, session_name, status, created_at, last_active_at
		FROM cp_sessions WHERE api_key_id = $1 ORDER BY created_at DESC
	`, apiKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

// GetSessionsNeedingRecovery retrieves sessions that should be restored on
// process start: any with an active or disconnected status.
func GetSessionsNeedingRecovery(ctx context.Context) ([]Session, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT session_id, api_key_id, session_name, status, created_at, last_active_at
		FROM cp_sessions
		WHERE status IN ('active', 'disconnected')
		ORDER BY last_active_at DESC NULLS LAST
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var s Session
		var apiKeyID sql.NullInt64
		var name sql.NullString
		var lastActive sql.NullTime
		if err := rows.Scan(&s.SessionID, &apiKeyID, &name, &s.Status, &s.CreatedAt, &lastActive); err != nil {
			return nil, err
		}
		if apiKeyID.Valid {
			s.APIKeyID = apiKeyID.Int64
		}
		if name.Valid {
			s.SessionName = name.String
		}
		if lastActive.Valid {
			s.LastActiveAt = &lastActive.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus updates the registry status of a session.
func UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	db, err := Open()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `UPDATE cp_sessions SET status = $2, last_active_at = NOW() WHERE session_id = $1`, sessionID, status)
	return err
}

// DeleteSession deletes a session row.
func DeleteSession(ctx context.Context, sessionID string) error {
	db, err := Open()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `DELETE FROM cp_sessions WHERE session_id = $1`, sessionID)
	return err
}
