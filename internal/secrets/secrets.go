// Package secrets encrypts sending-account credentials at rest. The pipeline
// only ever handles the opaque ciphertext; plaintext passwords exist in memory
// for the duration of a single SMTP session and are never logged.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey is returned when the configured key is not 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrDecryptFailed is returned when ciphertext fails authentication.
	ErrDecryptFailed = errors.New("credential decryption failed")
)

// Box seals and opens credential strings with a symmetric key.
type Box struct {
	key [keySize]byte
}

// NewBox creates a Box from a base64-encoded 32-byte key.
func NewBox(encodedKey string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(raw) != keySize {
		return nil, ErrInvalidKey
	}

	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// GenerateKey returns a fresh base64-encoded key suitable for NewBox.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts a plaintext credential and returns base64 ciphertext with the
// nonce prepended.
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts ciphertext produced by Seal.
func (b *Box) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < nonceSize {
		return "", ErrDecryptFailed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
