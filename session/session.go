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

// Package session issues and verifies API tokens (§3 ApiToken): a short
// indexed prefix plus an HMAC-SHA256 hash of the full token, verified by
// prefix lookup and a constant-time compare. There is no cookie-based
// browser session here (out of scope per §1); "session" names the
// teacher's package for the same credential-verification concern.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/dchest/uniuri"

	"github.com/ando-ci/ando/core"
)

// tokenLen is the length of the random portion of an issued token.
const tokenLen = 40

// prefixLen is how many leading characters of the token are stored
// unhashed for the indexed prefix lookup.
const prefixLen = 8

// ErrTokenExpired is returned by Verify when the token is structurally
// valid and matches its stored hash but has outlived Config.Timeout.
var ErrTokenExpired = errors.New("session: token has expired")

// ErrTokenInvalid is returned by Verify for an unknown prefix or a hash
// mismatch; the two cases are deliberately not distinguished to a caller,
// matching I3's "no plaintext/verification detail leaks" posture.
var ErrTokenInvalid = errors.New("session: token is invalid")

// Config controls token issuance/verification.
type Config struct {
	// Secret is the process-wide HMAC key. It is never persisted; losing
	// it invalidates every previously issued token.
	Secret string
	// Timeout is how long an issued token remains valid after CreatedAt.
	// Zero means tokens never expire.
	Timeout time.Duration
}

// Manager issues and verifies core.ApiToken credentials.
type Manager struct {
	tokens core.TokenStore
	secret []byte
	config Config
}

// New returns a Manager backed by tokens, keyed by config.Secret.
func New(tokens core.TokenStore, config Config) *Manager {
	return &Manager{tokens: tokens, secret: []byte(config.Secret), config: config}
}

// Issue mints a new token for actorID, persists its hash, and returns the
// full token string. The full token is returned exactly once; only its
// prefix and hash are stored.
func (m *Manager) Issue(ctx context.Context, actorID int64) (string, *core.ApiToken, error) {
	raw := uniuri.NewLen(tokenLen)
	record := &core.ApiToken{
		Prefix:    raw[:prefixLen],
		TokenHash: m.hash(raw),
		ActorID:   actorID,
		CreatedAt: time.Now().Unix(),
	}
	if err := m.tokens.Create(ctx, record); err != nil {
		return "", nil, err
	}
	return raw, record, nil
}

// Verify looks up token by its prefix and constant-time compares its
// HMAC-SHA256 hash, then checks Config.Timeout against CreatedAt.
func (m *Manager) Verify(ctx context.Context, token string) (*core.ApiToken, error) {
	if len(token) < prefixLen {
		return nil, ErrTokenInvalid
	}
	record, err := m.tokens.FindByPrefix(ctx, token[:prefixLen])
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTokenInvalid
	}
	if !hmac.Equal(m.hash(token), record.TokenHash) {
		return nil, ErrTokenInvalid
	}
	if m.config.Timeout > 0 {
		expiresAt := time.Unix(record.CreatedAt, 0).Add(m.config.Timeout)
		if time.Now().After(expiresAt) {
			return nil, ErrTokenExpired
		}
	}
	return record, nil
}

// Revoke deletes a token by id, rejecting it immediately for any future
// Verify call.
func (m *Manager) Revoke(ctx context.Context, id int64) error {
	return m.tokens.Delete(ctx, id)
}

func (m *Manager) hash(token string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	return mac.Sum(nil)
}
