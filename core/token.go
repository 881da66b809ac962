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

package core

import "context"

// ApiToken is an API credential identified by a short indexed prefix and
// verified by comparing an HMAC-SHA256 hash of the full token.
type ApiToken struct {
	ID        int64  `db:"id" json:"id"`
	Prefix    string `db:"prefix" json:"prefix"`
	TokenHash []byte `db:"token_hash" json:"-"`
	ActorID   int64  `db:"actor_id" json:"actor_id"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// TokenStore persists API tokens.
type TokenStore interface {
	FindByPrefix(ctx context.Context, prefix string) (*ApiToken, error)
	Create(ctx context.Context, token *ApiToken) error
	Delete(ctx context.Context, id int64) error
}
