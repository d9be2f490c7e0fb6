package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/chatpulse/chatpulse/pkg/chatpulse/credstore"
)

// peerScan plays the trusted device: it reads the challenge, generates its
// own key pair, and returns the scan confirmation plus the shared secret it
// derived on its side.
func peerScan(t *testing.T, ch *Challenge) (ScanResult, []byte) {
	t.Helper()

	var peerPriv [32]byte
	_, err := rand.Read(peerPriv[:])
	require.NoError(t, err)
	peerPriv[0] &= 248
	peerPriv[31] &= 127
	peerPriv[31] |= 64

	peerPub, err := curve25519.X25519(peerPriv[:], curve25519.Basepoint)
	require.NoError(t, err)

	shared, err := curve25519.X25519(peerPriv[:], ch.pub[:])
	require.NoError(t, err)

	return ScanResult{
		ClientID: ch.ClientID,
		Ref:      ch.Ref,
		PeerKey:  base64.StdEncoding.EncodeToString(peerPub),
		Nonce:    base64.StdEncoding.EncodeToString(ch.Nonce[:]),
	}, shared
}

func TestChallenge_PayloadFormat(t *testing.T) {
	ch, err := NewChallenge("client-1", time.Minute)
	require.NoError(t, err)

	parts := strings.Split(ch.Payload(), ":")
	require.Len(t, parts, 5)
	require.Equal(t, "CP1", parts[0])
	require.Equal(t, "client-1", parts[1])
	require.Equal(t, ch.Ref, parts[2])

	pub, err := base64.StdEncoding.DecodeString(parts[3])
	require.NoError(t, err)
	require.Len(t, pub, 32)

	nonce, err := base64.StdEncoding.DecodeString(parts[4])
	require.NoError(t, err)
	require.Len(t, nonce, 16)
}

func TestChallenge_RequiresClientID(t *testing.T) {
	_, err := NewChallenge("", time.Minute)
	require.Error(t, err)
}

func TestChallenge_ResolveDerivesMatchingCredentials(t *testing.T) {
	ch, err := NewChallenge("client-1", time.Minute)
	require.NoError(t, err)

	scan, shared := peerScan(t, ch)

	creds, err := ch.Resolve(scan, time.Now())
	require.NoError(t, err)
	require.NoError(t, creds.Validate())
	require.Equal(t, "client-1", creds.ClientID)

	// The peer derives the same key material from its side of the exchange.
	secret := make([]byte, credstore.SecretSize)
	signingKey := make([]byte, credstore.SigningKeySize)
	kdf := hkdf.New(sha256.New, shared, ch.Nonce[:], []byte("chatpulse/v1/pairing"))
	_, err = io.ReadFull(kdf, secret)
	require.NoError(t, err)
	_, err = io.ReadFull(kdf, signingKey)
	require.NoError(t, err)

	require.Equal(t, secret, creds.Secret)
	require.Equal(t, signingKey, creds.SigningKey)
}

func TestChallenge_ResolveExpired(t *testing.T) {
	ch, err := NewChallenge("client-1", time.Minute)
	require.NoError(t, err)

	scan, _ := peerScan(t, ch)

	_, err = ch.Resolve(scan, ch.ExpiresAt.Add(time.Second))
	require.ErrorIs(t, err, ErrExpired)
}

func TestChallenge_ResolveMismatches(t *testing.T) {
	ch, err := NewChallenge("client-1", time.Minute)
	require.NoError(t, err)

	valid, _ := peerScan(t, ch)
	now := time.Now()

	cases := map[string]func(ScanResult) ScanResult{
		"missing fields": func(s ScanResult) ScanResult {
			s.PeerKey = ""
			return s
		},
		"client id mismatch": func(s ScanResult) ScanResult {
			s.ClientID = "client-2"
			return s
		},
		"ref mismatch": func(s ScanResult) ScanResult {
			s.Ref = "other-ref"
			return s
		},
		"nonce mismatch": func(s ScanResult) ScanResult {
			s.Nonce = base64.StdEncoding.EncodeToString(make([]byte, 16))
			return s
		},
		"bad nonce encoding": func(s ScanResult) ScanResult {
			s.Nonce = "%%%"
			return s
		},
		"bad peer key": func(s ScanResult) ScanResult {
			s.PeerKey = base64.StdEncoding.EncodeToString([]byte("short"))
			return s
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ch.Resolve(mutate(valid), now)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestManager_BeginAndResolve(t *testing.T) {
	m := NewManager("client-1", time.Minute, nil, nil, nil)

	ch, err := m.Begin()
	require.NoError(t, err)
	require.Same(t, ch, m.Current())

	scan, _ := peerScan(t, ch)
	creds, err := m.Resolve(scan)
	require.NoError(t, err)
	require.NoError(t, creds.Validate())

	// Challenge is consumed on success.
	require.Nil(t, m.Current())
}

func TestManager_ResolveWithoutChallenge(t *testing.T) {
	m := NewManager("client-1", time.Minute, nil, nil, nil)
	_, err := m.Resolve(ScanResult{})
	require.ErrorIs(t, err, ErrExpired)
}

func TestManager_BeginReplacesOutstanding(t *testing.T) {
	m := NewManager("client-1", time.Minute, nil, nil, nil)

	first, err := m.Begin()
	require.NoError(t, err)
	second, err := m.Begin()
	require.NoError(t, err)
	require.NotEqual(t, first.Ref, second.Ref)

	// A scan of the replaced challenge no longer resolves.
	scan, _ := peerScan(t, first)
	_, err = m.Resolve(scan)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestManager_SilentRefreshWhileStillPairing(t *testing.T) {
	refreshed := make(chan *Challenge, 1)
	m := NewManager("client-1", 30*time.Millisecond, nil,
		func() bool { return true },
		func(ch *Challenge) { refreshed <- ch },
	)
	defer m.Stop()

	first, err := m.Begin()
	require.NoError(t, err)

	select {
	case ch := <-refreshed:
		require.NotEqual(t, first.Ref, ch.Ref)
		require.Same(t, ch, m.Current())
	case <-time.After(2 * time.Second):
		t.Fatal("expected a refreshed challenge after expiry")
	}
}

func TestManager_NoRefreshOnceNotPairing(t *testing.T) {
	refreshed := make(chan *Challenge, 1)
	m := NewManager("client-1", 30*time.Millisecond, nil,
		func() bool { return false },
		func(ch *Challenge) { refreshed <- ch },
	)
	defer m.Stop()

	_, err := m.Begin()
	require.NoError(t, err)

	select {
	case <-refreshed:
		t.Fatal("challenge must not refresh when the session left pairing")
	case <-time.After(150 * time.Millisecond):
	}
	require.Nil(t, m.Current())
}

func TestManager_StopCancelsChallenge(t *testing.T) {
	m := NewManager("client-1", time.Minute, nil, nil, nil)
	_, err := m.Begin()
	require.NoError(t, err)

	m.Stop()
	require.Nil(t, m.Current())
	m.Stop()
}
