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

// ArtifactStore is the sqlx-backed core.ArtifactStore.
type ArtifactStore struct {
	*Store
}

// NewArtifactStore returns an artifact repository bound to s.
func NewArtifactStore(s *Store) *ArtifactStore {
	return &ArtifactStore{Store: s}
}

// Create inserts artifact metadata and assigns its ID.
func (s *ArtifactStore) Create(ctx context.Context, a *core.BuildArtifact) error {
	query := s.rebind(`INSERT INTO build_artifacts
		(project_id, build_id, name, size_bytes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	res, err := s.DB.ExecContext(ctx, query, a.ProjectID, a.BuildID, a.Name, a.SizeBytes, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// ListByBuild returns every artifact registered for buildID.
func (s *ArtifactStore) ListByBuild(ctx context.Context, buildID int64) ([]*core.BuildArtifact, error) {
	var artifacts []*core.BuildArtifact
	query := s.rebind(`SELECT id, project_id, build_id, name, size_bytes, created_at, expires_at
		FROM build_artifacts WHERE build_id = ? ORDER BY id`)
	if err := s.DB.SelectContext(ctx, &artifacts, query, buildID); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// ListExpired returns artifacts whose expires_at has passed now, for the
// retention sweeper.
func (s *ArtifactStore) ListExpired(ctx context.Context, now int64) ([]*core.BuildArtifact, error) {
	var artifacts []*core.BuildArtifact
	query := s.rebind(`SELECT id, project_id, build_id, name, size_bytes, created_at, expires_at
		FROM build_artifacts WHERE expires_at > 0 AND expires_at < ?`)
	if err := s.DB.SelectContext(ctx, &artifacts, query, now); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Delete removes an artifact's metadata row; the caller is responsible
// for removing the backing file via container/artifact.
func (s *ArtifactStore) Delete(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM build_artifacts WHERE id = ?`), id)
	return err
}
