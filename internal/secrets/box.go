// Package secrets encrypts provider API keys at rest and resolves them for
// chat turns.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	ErrNoSecret  = errors.New("security.secret_key is not configured")
	ErrBadCipher = errors.New("ciphertext is invalid or was sealed with another key")
)

// Box seals values with NaCl secretbox under a key derived from the
// configured secret.
type Box struct {
	key [32]byte
}

// NewBox derives the box key as sha256(secret).
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

// Encrypt returns base64(nonce || sealed).
func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrBadCipher
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrBadCipher
	}
	return string(plain), nil
}
