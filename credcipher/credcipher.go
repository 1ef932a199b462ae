// Package credcipher encrypts external-account credentials at rest.
//
// The secret is sealed with ChaCha20-Poly1305 under a 32-byte key taken
// from the environment. Failures are fatal for the operation at hand —
// there is deliberately no fallback to storing plaintext.
package credcipher

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm identifies the sealing scheme in stored credential rows, so a
// future rotation can tell old blobs apart.
const Algorithm = "chacha20poly1305-v1"

// ErrCipher is wrapped by every encryption/decryption failure. Callers
// must treat it as fatal for the operation; it never degrades silently.
var ErrCipher = errors.New("credcipher: cipher failure")

// ErrNoKey is returned when the key environment variable is absent.
var ErrNoKey = errors.New("credcipher: missing key")

// Cipher seals and opens credential blobs.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	return &Cipher{aead: aead}, nil
}

// FromEnv creates a Cipher from a standard-base64 key in the named
// environment variable.
func FromEnv(name string) (*Cipher, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrNoKey, name)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCipher, name, err)
	}
	return New(key)
}

// Encrypt seals a plaintext credential. The returned blob is
// nonce || ciphertext and is opaque to callers.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrCipher, err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(blob []byte) (string, error) {
	if len(blob) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: blob too short", ErrCipher)
	}
	nonce, ct := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipher, err)
	}
	return string(plain), nil
}
