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

package store

import (
	"context"

	"github.com/ando-ci/ando/core"
)

// TokenStore is the sqlx-backed core.TokenStore.
type TokenStore struct {
	*Store
}

// NewTokenStore returns a token repository bound to s.
func NewTokenStore(s *Store) *TokenStore {
	return &TokenStore{Store: s}
}

// FindByPrefix locates an API token by its indexed short prefix.
func (s *TokenStore) FindByPrefix(ctx context.Context, prefix string) (*core.ApiToken, error) {
	var t core.ApiToken
	query := s.rebind(`SELECT id, prefix, token_hash, actor_id, created_at
		FROM api_tokens WHERE prefix = ?`)
	if err := s.DB.GetContext(ctx, &t, query, prefix); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Create inserts a token row and assigns its ID.
func (s *TokenStore) Create(ctx context.Context, t *core.ApiToken) error {
	query := s.rebind(`INSERT INTO api_tokens (prefix, token_hash, actor_id, created_at)
		VALUES (?, ?, ?, ?)`)
	res, err := s.DB.ExecContext(ctx, query, t.Prefix, t.TokenHash, t.ActorID, t.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// Delete revokes a token by id.
func (s *TokenStore) Delete(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM api_tokens WHERE id = ?`), id)
	return err
}
