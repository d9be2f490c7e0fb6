package credstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// The current supported version of the encrypted blob format stored at rest.
const blobFormatVersion = 1

const saltSize = 16

// Returned when the store key is wrong or the ciphertext has been modified.
var errBadStoreKey = errors.New("wrong store key or corrupted credentials")

// blob is the at-rest JSON structure holding the ciphertext and KDF salt.
type blob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

func deriveKEK(storeKey string, salt []byte) []byte {
	return argon2.IDKey([]byte(storeKey), salt, 1, 1<<16, 4, chacha20poly1305.KeySize)
}

// encrypt derives a key from storeKey and seals raw into a JSON blob.
func encrypt(storeKey string, raw []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	kek := deriveKEK(storeKey, salt)
	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, raw, salt)

	return json.Marshal(blob{
		V:      blobFormatVersion,
		Salt:   salt,
		Nonce:  nonce,
		Cipher: ct,
	})
}

// decrypt opens the JSON blob using a key derived from storeKey.
func decrypt(storeKey string, data []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(data, &bl); err != nil {
		return nil, err
	}
	if bl.V > blobFormatVersion {
		return nil, fmt.Errorf("unsupported credential blob version %d", bl.V)
	}

	kek := deriveKEK(storeKey, bl.Salt)
	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, bl.Salt)
	if err != nil {
		return nil, errBadStoreKey
	}
	return pt, nil
}
