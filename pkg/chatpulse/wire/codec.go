package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/chatpulse/chatpulse/pkg/chatpulse/credstore"
)

var (
	// ErrMalformed indicates a frame that cannot be parsed. Single bad
	// frames are dropped by the session, never fatal.
	ErrMalformed = errors.New("malformed frame")

	// ErrSignatureInvalid indicates a frame whose integrity signature does
	// not verify under the session signing key.
	ErrSignatureInvalid = errors.New("frame signature invalid")
)

const (
	frameMagic0  = 'C'
	frameMagic1  = 'P'
	frameVersion = 1

	headerSize = 2 + 1 + 1 + 8 + chacha20poly1305.NonceSize + 4
	sigSize    = sha256.Size

	// maxPayloadSize bounds a single frame. Oversized frames are malformed.
	maxPayloadSize = 1 << 20
)

// Codec encodes and decodes frames under one set of session credentials.
// Credentials are borrowed read-only; the codec never mutates them. It must
// only be constructed once pairing or resume succeeded.
type Codec struct {
	encKey  []byte
	signKey []byte
}

// NewCodec derives the frame encryption key from the credentials secret.
// The signing key is used as-is for the integrity trailer.
func NewCodec(creds credstore.Credentials) (*Codec, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	encKey := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, creds.Secret, []byte(creds.ClientID), []byte("chatpulse/v1/frame"))
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, err
	}

	return &Codec{
		encKey:  encKey,
		signKey: append([]byte(nil), creds.SigningKey...),
	}, nil
}

// Encode produces a deterministic frame: identical envelopes yield identical
// bytes, so encode/decode round-trips are testable. The nonce is derived from
// the envelope content (SIV style) rather than drawn at random.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	if env.Kind == 0 {
		return nil, ErrMalformed
	}
	if len(env.Payload) > maxPayloadSize {
		return nil, ErrMalformed
	}

	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	nonce := c.deriveNonce(env.Kind, ts.UnixMilli(), env.Payload)

	aead, err := chacha20poly1305.New(c.encKey)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, headerSize, headerSize+len(env.Payload)+aead.Overhead()+sigSize)
	frame[0] = frameMagic0
	frame[1] = frameMagic1
	frame[2] = frameVersion
	frame[3] = byte(env.Kind)
	binary.BigEndian.PutUint64(frame[4:12], uint64(ts.UnixMilli()))
	copy(frame[12:12+chacha20poly1305.NonceSize], nonce)

	// Header (sans length) is bound as associated data.
	ct := aead.Seal(nil, nonce, env.Payload, frame[:12+chacha20poly1305.NonceSize])
	binary.BigEndian.PutUint32(frame[headerSize-4:headerSize], uint32(len(ct)))
	frame = append(frame, ct...)

	mac := hmac.New(sha256.New, c.signKey)
	mac.Write(frame)
	return mac.Sum(frame), nil
}

// Decode validates the signature, then decrypts and returns the envelope.
func (c *Codec) Decode(frame []byte) (Envelope, error) {
	if len(frame) < headerSize+sigSize {
		return Envelope{}, ErrMalformed
	}
	if frame[0] != frameMagic0 || frame[1] != frameMagic1 || frame[2] != frameVersion {
		return Envelope{}, ErrMalformed
	}

	body := frame[:len(frame)-sigSize]
	sig := frame[len(frame)-sigSize:]

	mac := hmac.New(sha256.New, c.signKey)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Envelope{}, ErrSignatureInvalid
	}

	kind := Kind(frame[3])
	tsMilli := int64(binary.BigEndian.Uint64(frame[4:12]))
	nonce := frame[12 : 12+chacha20poly1305.NonceSize]
	ctLen := binary.BigEndian.Uint32(frame[headerSize-4 : headerSize])

	if ctLen > maxPayloadSize+chacha20poly1305.Overhead {
		return Envelope{}, ErrMalformed
	}
	if len(body) != headerSize+int(ctLen) {
		return Envelope{}, ErrMalformed
	}

	aead, err := chacha20poly1305.New(c.encKey)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := aead.Open(nil, nonce, body[headerSize:], body[:12+chacha20poly1305.NonceSize])
	if err != nil {
		return Envelope{}, ErrMalformed
	}

	return Envelope{
		Kind:      kind,
		Timestamp: time.UnixMilli(tsMilli),
		Payload:   payload,
	}, nil
}

func (c *Codec) deriveNonce(kind Kind, tsMilli int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, c.signKey)
	var head [9]byte
	head[0] = byte(kind)
	binary.BigEndian.PutUint64(head[1:], uint64(tsMilli))
	mac.Write(head[:])
	mac.Write(payload)
	return mac.Sum(nil)[:chacha20poly1305.NonceSize]
}
