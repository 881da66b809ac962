package vault

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
}

// R1: Encrypting then decrypting a secret returns the original bytes.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	plaintext := []byte("super-secret-value")
	blob, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Fatalf("ciphertext must not contain the plaintext")
	}
	got, err := v.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	v, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blob, err := v.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	blob[len(blob)-1] ^= 0xFF
	if _, err := v.Decrypt(blob); err == nil {
		t.Fatalf("expected authentication failure on tampered ciphertext")
	}
}

func TestNewFromPassphraseDeterministic(t *testing.T) {
	v1, err := NewFromPassphrase("correct horse battery staple", "ando-deployment-salt")
	if err != nil {
		t.Fatalf("NewFromPassphrase: %v", err)
	}
	v2, err := NewFromPassphrase("correct horse battery staple", "ando-deployment-salt")
	if err != nil {
		t.Fatalf("NewFromPassphrase: %v", err)
	}
	blob, err := v1.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := v2.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt with independently-derived key: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestInvalidKeySize(t *testing.T) {
	if _, err := New(base64.StdEncoding.EncodeToString([]byte("too-short"))); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
