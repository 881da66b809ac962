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

// ProjectStore is the sqlx-backed core.ProjectStore.
type ProjectStore struct {
	*Store
}

// NewProjectStore returns a project repository bound to s.
func NewProjectStore(s *Store) *ProjectStore {
	return &ProjectStore{Store: s}
}

const projectColumns = `id, external_id, owner, name, default_branch, installation_id,
	webhook_secret, branch_filter, enable_pr_builds, timeout_minutes, image,
	profile, required_secrets, notify_endpoints, last_build_at, created_at`

// Find returns the project with id, or nil if it does not exist.
func (s *ProjectStore) Find(ctx context.Context, id int64) (*core.Project, error) {
	var p core.Project
	query := s.rebind(`SELECT ` + projectColumns + ` FROM projects WHERE id = ?`)
	if err := s.DB.GetContext(ctx, &p, query, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// FindByExternalID looks a project up by its forge repository id.
func (s *ProjectStore) FindByExternalID(ctx context.Context, externalID string) (*core.Project, error) {
	var p core.Project
	query := s.rebind(`SELECT ` + projectColumns + ` FROM projects WHERE external_id = ?`)
	if err := s.DB.GetContext(ctx, &p, query, externalID); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// List returns every project.
func (s *ProjectStore) List(ctx context.Context) ([]*core.Project, error) {
	var projects []*core.Project
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY id`
	if err := s.DB.SelectContext(ctx, &projects, query); err != nil {
		return nil, err
	}
	return projects, nil
}

// Create inserts project and assigns its ID.
func (s *ProjectStore) Create(ctx context.Context, p *core.Project) error {
	if p.TimeoutMinutes == 0 {
		p.TimeoutMinutes = core.DefaultTimeoutMinutes
	}
	query := s.rebind(`INSERT INTO projects
		(external_id, owner, name, default_branch, installation_id, webhook_secret,
		 branch_filter, enable_pr_builds, timeout_minutes, image, profile,
		 required_secrets, notify_endpoints, last_build_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := s.DB.ExecContext(ctx, query,
		p.ExternalID, p.Owner, p.Name, p.DefaultBranch, p.InstallationID, p.WebhookSecret,
		p.BranchFilter, p.EnablePRBuilds, p.TimeoutMinutes, p.Image, p.Profile,
		p.RequiredSecrets, p.NotifyEndpoints, p.LastBuildAt, p.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// Update persists every mutable field of p.
func (s *ProjectStore) Update(ctx context.Context, p *core.Project) error {
	query := s.rebind(`UPDATE projects SET
		default_branch = ?, installation_id = ?, webhook_secret = ?, branch_filter = ?,
		enable_pr_builds = ?, timeout_minutes = ?, image = ?, profile = ?,
		required_secrets = ?, notify_endpoints = ?, last_build_at = ?
		WHERE id = ?`)
	_, err := s.DB.ExecContext(ctx, query,
		p.DefaultBranch, p.InstallationID, p.WebhookSecret, p.BranchFilter,
		p.EnablePRBuilds, p.TimeoutMinutes, p.Image, p.Profile,
		p.RequiredSecrets, p.NotifyEndpoints, p.LastBuildAt, p.ID,
	)
	return err
}

// Delete removes the project; ON DELETE CASCADE foreign keys (see
// schema.sql) remove its builds, log entries, artifacts and secrets.
func (s *ProjectStore) Delete(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM projects WHERE id = ?`), id)
	return err
}
