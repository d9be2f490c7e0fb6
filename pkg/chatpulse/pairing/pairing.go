// Package pairing generates ephemeral pairing challenges and converts a
// confirmed scan into session credentials. Challenges are never persisted.
package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/chatpulse/chatpulse/pkg/chatpulse/credstore"
)

var (
	// ErrExpired indicates the challenge timed out before being resolved.
	// Recoverable: a fresh challenge can be generated.
	ErrExpired = errors.New("pairing challenge expired")

	// ErrInvalid indicates the scan result does not match the outstanding
	// challenge. Caller error; never partially authenticates.
	ErrInvalid = errors.New("pairing scan invalid")
)

// DefaultTTL is how long a single pairing challenge stays scannable.
const DefaultTTL = 60 * time.Second

const payloadPrefix = "CP1"

// Challenge is the ephemeral key material behind one pairing code. It exists
// only between "pairing requested" and "pairing resolved or expired".
type Challenge struct {
	Ref       string
	ClientID  string
	Nonce     [16]byte
	CreatedAt time.Time
	ExpiresAt time.Time

	priv [32]byte
	pub  [32]byte
}

// ScanResult is the out-of-band confirmation delivered by the trusted device
// that scanned the pairing code.
type ScanResult struct {
	ClientID string `json:"client_id"`
	Ref      string `json:"ref"`
	PeerKey  string `json:"peer_key"` // base64 X25519 public key
	Nonce    string `json:"nonce"`    // base64 echo of the challenge nonce
}

// NewChallenge generates a fresh X25519 key pair and nonce for clientID.
func NewChallenge(clientID string, ttl time.Duration) (*Challenge, error) {
	if clientID == "" {
		return nil, errors.New("pairing requires a client id")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ch := &Challenge{
		Ref:      uuid.NewString(),
		ClientID: clientID,
	}
	if _, err := rand.Read(ch.priv[:]); err != nil {
		return nil, err
	}
	// Clamp per RFC 7748.
	ch.priv[0] &= 248
	ch.priv[31] &= 127
	ch.priv[31] |= 64

	pub, err := curve25519.X25519(ch.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(ch.pub[:], pub)

	if _, err := rand.Read(ch.Nonce[:]); err != nil {
		return nil, err
	}

	now := time.Now()
	ch.CreatedAt = now
	ch.ExpiresAt = now.Add(ttl)
	return ch, nil
}

// Payload returns the raw pairing payload string. Rendering it (QR image,
// terminal) is the caller's concern.
func (ch *Challenge) Payload() string {
	return strings.Join([]string{
		payloadPrefix,
		ch.ClientID,
		ch.Ref,
		base64.StdEncoding.EncodeToString(ch.pub[:]),
		base64.StdEncoding.EncodeToString(ch.Nonce[:]),
	}, ":")
}

// ExpiredAt reports whether the challenge has expired at now.
func (ch *Challenge) ExpiredAt(now time.Time) bool {
	return now.After(ch.ExpiresAt)
}

// Resolve validates the scan result against the challenge and derives session
// credentials from the X25519 shared secret. Fails closed on any mismatch.
func (ch *Challenge) Resolve(scan ScanResult, now time.Time) (credstore.Credentials, error) {
	if ch.ExpiredAt(now) {
		return credstore.Credentials{}, ErrExpired
	}
	if scan.ClientID == "" || scan.Ref == "" || scan.PeerKey == "" || scan.Nonce == "" {
		return credstore.Credentials{}, fmt.Errorf("%w: missing fields", ErrInvalid)
	}
	if scan.ClientID != ch.ClientID {
		return credstore.Credentials{}, fmt.Errorf("%w: client id mismatch", ErrInvalid)
	}
	if scan.Ref != ch.Ref {
		return credstore.Credentials{}, fmt.Errorf("%w: challenge reference mismatch", ErrInvalid)
	}

	nonce, err := base64.StdEncoding.DecodeString(scan.Nonce)
	if err != nil || len(nonce) != len(ch.Nonce) || !bytesEqual(nonce, ch.Nonce[:]) {
		return credstore.Credentials{}, fmt.Errorf("%w: nonce mismatch", ErrInvalid)
	}

	peerKey, err := base64.StdEncoding.DecodeString(scan.PeerKey)
	if err != nil || len(peerKey) != 32 {
		return credstore.Credentials{}, fmt.Errorf("%w: bad peer key", ErrInvalid)
	}

	shared, err := curve25519.X25519(ch.priv[:], peerKey)
	if err != nil {
		return credstore.Credentials{}, fmt.Errorf("%w: weak peer key", ErrInvalid)
	}

	secret := make([]byte, credstore.SecretSize)
	signingKey := make([]byte, credstore.SigningKeySize)
	kdf := hkdf.New(sha256.New, shared, ch.Nonce[:], []byte("chatpulse/v1/pairing"))
	if _, err := io.ReadFull(kdf, secret); err != nil {
		return credstore.Credentials{}, err
	}
	if _, err := io.ReadFull(kdf, signingKey); err != nil {
		return credstore.Credentials{}, err
	}

	return credstore.Credentials{
		ClientID:   ch.ClientID,
		Secret:     secret,
		SigningKey: signingKey,
		IssuedAt:   now,
		LastUsed:   now,
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
