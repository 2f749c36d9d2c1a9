// Package secrets encrypts per-user channel credentials (phone numbers,
// chat API tokens) at rest using NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey is returned when the configured key is not 32 bytes of base64
	ErrInvalidKey = errors.New("secrets key must be 32 bytes, base64 encoded")
	// ErrDecrypt is returned when a ciphertext is malformed or was sealed with another key
	ErrDecrypt = errors.New("failed to decrypt secret")
)

// Box seals and opens short secrets with a single symmetric key
type Box struct {
	key  [keySize]byte
	rand io.Reader
}

// NewBox creates a Box from a base64 (standard or URL, padded or raw) encoded 32-byte key
func NewBox(encodedKey string) (*Box, error) {
	raw, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	b := &Box{rand: rand.Reader}
	copy(b.key[:], raw)
	return b, nil
}

// GenerateKey returns a new random key in the encoding NewBox accepts
func GenerateKey() (string, error) {
	var k [keySize]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", errors.Wrap(err, "failed to generate key")
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}

// Encrypt seals plaintext. Empty input stays empty so unset fields remain unset.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(b.rand, nonce[:]); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (b *Box) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	sealed, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(ErrDecrypt, "ciphertext is not base64")
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", errors.Wrap(ErrDecrypt, "ciphertext too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	opened, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(opened), nil
}

func decodeKey(encoded string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if raw, err := enc.DecodeString(encoded); err == nil && len(raw) == keySize {
			return raw, nil
		}
	}
	return nil, ErrInvalidKey
}
