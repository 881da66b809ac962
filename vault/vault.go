// Copyright 2019 Drone IO, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vault implements the AES-256-GCM authenticated-encryption
// wrapper over secret values and API tokens at rest (S2).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidKey is returned when the configured key is not 32 raw bytes.
var ErrInvalidKey = errors.New("vault: key must decode to 32 bytes")

// ErrCiphertextTooShort is returned when decrypting a malformed blob.
var ErrCiphertextTooShort = errors.New("vault: ciphertext too short")

const pbkdf2Iterations = 100000

// Vault encrypts and decrypts secret values with AES-256-GCM.
type Vault struct {
	gcm cipher.AEAD
}

// New builds a Vault from a 32-byte base64-encoded key, as configured by
// the operator (ANDO_SECRET_KEY).
func New(base64Key string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, err
	}
	return newFromKey(key)
}

// NewFromPassphrase derives a 32-byte key from an operator-supplied
// passphrase and a stable per-deployment salt using PBKDF2, for
// deployments that configure a passphrase instead of a raw key.
func NewFromPassphrase(passphrase, salt string) (*Vault, error) {
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Iterations, 32, sha3.New256)
	return newFromKey(key)
}

func newFromKey(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{gcm: gcm}, nil
}

// Encrypt seals plaintext, prefixing the returned blob with a fresh nonce.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return v.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. R1: Decrypt(Encrypt(p)) == p.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	size := v.gcm.NonceSize()
	if len(blob) < size {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := blob[:size], blob[size:]
	return v.gcm.Open(nil, nonce, ciphertext, nil)
}
