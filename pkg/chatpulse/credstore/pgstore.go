package credstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGStore keeps encrypted credential blobs in Postgres for multi-node
// deployments. The blob format is identical to the file store's.
type PGStore struct {
	db       *sql.DB
	storeKey string
	ttl      time.Duration
}

func NewPGStore(ctx context.Context, db *sql.DB, storeKey string, ttl time.Duration) (*PGStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS chatpulse_credentials (
		session_id TEXT PRIMARY KEY,
		blob BYTEA NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, err
	}
	return &PGStore{db: db, storeKey: storeKey, ttl: ttl}, nil
}

func (s *PGStore) Load(ctx context.Context, sessionID string) (Credentials, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM chatpulse_credentials WHERE session_id = $1`, sessionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, err
	}

	raw, err := decrypt(s.storeKey, data)
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, err
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	if creds.ExpiredAt(time.Now(), s.ttl) {
		return Credentials{}, ErrExpired
	}
	return creds, nil
}

func (s *PGStore) Save(ctx context.Context, sessionID string, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	data, err := encrypt(s.storeKey, raw)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO chatpulse_credentials (session_id, blob, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (session_id) DO UPDATE SET blob = EXCLUDED.blob, updated_at = CURRENT_TIMESTAMP`,
		sessionID, data)
	return err
}

func (s *PGStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chatpulse_credentials WHERE session_id = $1`, sessionID)
	return err
}
