package credcipher

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	c, err := New(make([]byte, 32))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	blob, err := c.Encrypt("contraseña-secreta")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(blob, []byte("contraseña")) {
		t.Fatal("plaintext visible in sealed blob")
	}

	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "contraseña-secreta" {
		t.Fatalf("got %q", got)
	}

	// Distinct nonces: sealing twice never repeats the blob.
	again, err := c.Encrypt("contraseña-secreta")
	if err != nil {
		t.Fatalf("Encrypt again: %v", err)
	}
	if bytes.Equal(blob, again) {
		t.Fatal("two seals produced identical blobs")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := New(make([]byte, 32))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blob, err := c.Encrypt("secreto")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	blob[len(blob)-1] ^= 0xff
	if _, err := c.Decrypt(blob); !errors.Is(err, ErrCipher) {
		t.Fatalf("got %v, want ErrCipher on tampered blob", err)
	}

	if _, err := c.Decrypt([]byte("short")); !errors.Is(err, ErrCipher) {
		t.Fatalf("got %v, want ErrCipher on truncated blob", err)
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New(make([]byte, 16)); !errors.Is(err, ErrCipher) {
		t.Fatalf("got %v, want ErrCipher for short key", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TEST_CRED_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
	if _, err := FromEnv("TEST_CRED_KEY"); err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	t.Setenv("TEST_CRED_KEY", "")
	if _, err := FromEnv("TEST_CRED_KEY"); !errors.Is(err, ErrNoKey) {
		t.Fatalf("got %v, want ErrNoKey", err)
	}

	t.Setenv("TEST_CRED_KEY", "%%%not-base64%%%")
	if _, err := FromEnv("TEST_CRED_KEY"); !errors.Is(err, ErrCipher) {
		t.Fatalf("got %v, want ErrCipher for undecodable key", err)
	}
}
