package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps one encrypted credential file per session under dir.
// Writes are atomic (tmp + rename) so a concurrent logout never observes a
// partially written file.
type FileStore struct {
	dir      string
	storeKey string
	ttl      time.Duration
	mu       sync.Mutex
}

func NewFileStore(dir string, storeKey string, ttl time.Duration) *FileStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FileStore{dir: dir, storeKey: storeKey, ttl: ttl}
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".cred")
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
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

func (s *FileStore) Save(ctx context.Context, sessionID string, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	data, err := encrypt(s.storeKey, raw)
	if err != nil {
		return err
	}
	return atomicWrite(s.path(sessionID), data, 0o600)
}

func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sessions lists the session identifiers with a credential file on disk.
func (s *FileStore) Sessions() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".cred" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".cred")])
	}
	return ids, nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".cred-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
