package credstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCreds(clientID string, issued time.Time) Credentials {
	return Credentials{
		ClientID:   clientID,
		Secret:     bytes.Repeat([]byte{0xAB}, SecretSize),
		SigningKey: bytes.Repeat([]byte{0xCD}, SigningKeySize),
		IssuedAt:   issued,
		LastUsed:   issued,
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir(), "store-key", time.Hour)
	ctx := context.Background()

	creds := testCreds("client-1", time.Now().Add(-time.Minute))
	require.NoError(t, store.Save(ctx, "session-1", creds))

	loaded, err := store.Load(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, creds.ClientID, loaded.ClientID)
	require.Equal(t, creds.Secret, loaded.Secret)
	require.Equal(t, creds.SigningKey, loaded.SigningKey)
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir(), "store-key", time.Hour)
	_, err := store.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LoadExpired(t *testing.T) {
	store := NewFileStore(t.TempDir(), "store-key", time.Hour)
	ctx := context.Background()

	stale := testCreds("client-1", time.Now().Add(-2*time.Hour))
	require.NoError(t, store.Save(ctx, "session-1", stale))

	_, err := store.Load(ctx, "session-1")
	require.ErrorIs(t, err, ErrExpired)
}

func TestFileStore_TouchExtendsWindow(t *testing.T) {
	store := NewFileStore(t.TempDir(), "store-key", time.Hour)
	ctx := context.Background()

	creds := testCreds("client-1", time.Now().Add(-2*time.Hour))
	creds.Touch(time.Now())
	require.NoError(t, store.Save(ctx, "session-1", creds))

	_, err := store.Load(ctx, "session-1")
	require.NoError(t, err)
}

func TestFileStore_WrongStoreKey(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := NewFileStore(dir, "store-key", time.Hour)
	require.NoError(t, store.Save(ctx, "session-1", testCreds("client-1", time.Now())))

	other := NewFileStore(dir, "different-key", time.Hour)
	_, err := other.Load(ctx, "session-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestFileStore_Delete(t *testing.T) {
	store := NewFileStore(t.TempDir(), "store-key", time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "session-1", testCreds("client-1", time.Now())))
	require.NoError(t, store.Delete(ctx, "session-1"))

	_, err := store.Load(ctx, "session-1")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent session is not an error.
	require.NoError(t, store.Delete(ctx, "session-1"))
}

func TestFileStore_Sessions(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "store-key", time.Hour)
	ctx := context.Background()

	ids, err := store.Sessions()
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, store.Save(ctx, "session-a", testCreds("client-a", time.Now())))
	require.NoError(t, store.Save(ctx, "session-b", testCreds("client-b", time.Now())))

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	ids, err = store.Sessions()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"session-a", "session-b"}, ids)
}

func TestFileStore_SessionsMissingDir(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "never-created"), "store-key", time.Hour)
	ids, err := store.Sessions()
	require.NoError(t, err)
	require.Nil(t, ids)
}

func TestFileStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file mode semantics differ on windows")
	}

	dir := t.TempDir()
	store := NewFileStore(dir, "store-key", time.Hour)
	require.NoError(t, store.Save(context.Background(), "session-1", testCreds("client-1", time.Now())))

	info, err := os.Stat(filepath.Join(dir, "session-1.cred"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_SaveRejectsInvalidCredentials(t *testing.T) {
	store := NewFileStore(t.TempDir(), "store-key", time.Hour)

	creds := testCreds("client-1", time.Now())
	creds.Secret = creds.Secret[:4]
	require.Error(t, store.Save(context.Background(), "session-1", creds))
}

func TestFileStore_CiphertextNotPlain(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "store-key", time.Hour)
	require.NoError(t, store.Save(context.Background(), "session-1", testCreds("client-1", time.Now())))

	data, err := os.ReadFile(filepath.Join(dir, "session-1.cred"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "client-1")
	require.NotContains(t, string(data), "client_id")
}

func TestCredentials_ExpiredAt(t *testing.T) {
	now := time.Now()
	creds := testCreds("client-1", now.Add(-48*time.Hour))
	creds.LastUsed = time.Time{}

	require.True(t, creds.ExpiredAt(now, 24*time.Hour))
	require.False(t, creds.ExpiredAt(now, 72*time.Hour))

	// LastUsed takes precedence over IssuedAt once set.
	creds.Touch(now.Add(-time.Hour))
	require.False(t, creds.ExpiredAt(now, 24*time.Hour))
}
