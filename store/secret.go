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

// SecretStore is the sqlx-backed core.SecretStore. Values are write-only:
// no Find/List method here ever returns a decrypted value (I3) — that
// happens only inside the orchestrator after an explicit vault.Decrypt.
type SecretStore struct {
	*Store
}

// NewSecretStore returns a secret repository bound to s.
func NewSecretStore(s *Store) *SecretStore {
	return &SecretStore{Store: s}
}

// List returns every secret row (name + encrypted_value) for projectID.
func (s *SecretStore) List(ctx context.Context, projectID int64) ([]*core.ProjectSecret, error) {
	var secrets []*core.ProjectSecret
	query := s.rebind(`SELECT project_id, name, encrypted_value, created_at
		FROM project_secrets WHERE project_id = ? ORDER BY name`)
	if err := s.DB.SelectContext(ctx, &secrets, query, projectID); err != nil {
		return nil, err
	}
	return secrets, nil
}

// Find returns a single secret row by name, or nil if it does not exist.
func (s *SecretStore) Find(ctx context.Context, projectID int64, name string) (*core.ProjectSecret, error) {
	var secret core.ProjectSecret
	query := s.rebind(`SELECT project_id, name, encrypted_value, created_at
		FROM project_secrets WHERE project_id = ? AND name = ?`)
	if err := s.DB.GetContext(ctx, &secret, query, projectID, name); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &secret, nil
}

// Upsert inserts or replaces a secret value by (project_id, name).
func (s *SecretStore) Upsert(ctx context.Context, secret *core.ProjectSecret) error {
	existing, err := s.Find(ctx, secret.ProjectID, secret.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		query := s.rebind(`INSERT INTO project_secrets (project_id, name, encrypted_value, created_at)
			VALUES (?, ?, ?, ?)`)
		_, err := s.DB.ExecContext(ctx, query, secret.ProjectID, secret.Name, secret.EncryptedValue, secret.CreatedAt)
		return err
	}
	query := s.rebind(`UPDATE project_secrets SET encrypted_value = ?, created_at = ?
		WHERE project_id = ? AND name = ?`)
	_, err = s.DB.ExecContext(ctx, query, secret.EncryptedValue, secret.CreatedAt, secret.ProjectID, secret.Name)
	return err
}

// Delete removes a secret by (project_id, name).
func (s *SecretStore) Delete(ctx context.Context, projectID int64, name string) error {
	query := s.rebind(`DELETE FROM project_secrets WHERE project_id = ? AND name = ?`)
	_, err := s.DB.ExecContext(ctx, query, projectID, name)
	return err
}
