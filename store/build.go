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

// BuildStore is the sqlx-backed core.BuildStore.
type BuildStore struct {
	*Store
}

// NewBuildStore returns a build repository bound to s.
func NewBuildStore(s *Store) *BuildStore {
	return &BuildStore{Store: s}
}

const buildColumns = `id, project_id, commit_sha, branch, commit_message, commit_author,
	pull_request_number, status, trigger, total_steps, completed_steps, failed_steps,
	error_message, job_id, queued_at, started_at, finished_at`

// Find returns the build with id, or nil if it does not exist.
func (s *BuildStore) Find(ctx context.Context, id int64) (*core.Build, error) {
	var b core.Build
	query := s.rebind(`SELECT ` + buildColumns + ` FROM builds WHERE id = ?`)
	if err := s.DB.GetContext(ctx, &b, query, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// FindByJobID returns the build enqueued under jobID.
func (s *BuildStore) FindByJobID(ctx context.Context, jobID string) (*core.Build, error) {
	var b core.Build
	query := s.rebind(`SELECT ` + buildColumns + ` FROM builds WHERE job_id = ?`)
	if err := s.DB.GetContext(ctx, &b, query, jobID); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// List returns a page of builds for projectID, most recent first.
func (s *BuildStore) List(ctx context.Context, projectID int64, limit, offset int) ([]*core.Build, error) {
	var builds []*core.Build
	query := s.rebind(`SELECT ` + buildColumns + ` FROM builds
		WHERE project_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`)
	if err := s.DB.SelectContext(ctx, &builds, query, projectID, limit, offset); err != nil {
		return nil, err
	}
	return builds, nil
}

// Create inserts build in StatusQueued and assigns its ID.
func (s *BuildStore) Create(ctx context.Context, b *core.Build) error {
	query := s.rebind(`INSERT INTO builds
		(project_id, commit_sha, branch, commit_message, commit_author, pull_request_number,
		 status, trigger, total_steps, completed_steps, failed_steps, error_message, job_id,
		 queued_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := s.DB.ExecContext(ctx, query,
		b.ProjectID, b.CommitSHA, b.Branch, b.CommitMessage, b.CommitAuthor, b.PullRequestNumber,
		b.Status, b.Trigger, b.TotalSteps, b.CompletedSteps, b.FailedSteps, b.ErrorMessage, b.JobID,
		b.QueuedAt, b.StartedAt, b.FinishedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// Update persists every mutable field of b. Invariants I2/§3 (terminal
// immutability, timestamp ordering) are enforced by the orchestrator
// before calling Update, not by this layer.
func (s *BuildStore) Update(ctx context.Context, b *core.Build) error {
	query := s.rebind(`UPDATE builds SET
		status = ?, total_steps = ?, completed_steps = ?, failed_steps = ?,
		error_message = ?, job_id = ?, started_at = ?, finished_at = ?
		WHERE id = ?`)
	_, err := s.DB.ExecContext(ctx, query,
		b.Status, b.TotalSteps, b.CompletedSteps, b.FailedSteps,
		b.ErrorMessage, b.JobID, b.StartedAt, b.FinishedAt, b.ID,
	)
	return err
}

// Count returns the total number of builds, used by the Datadog sink.
func (s *BuildStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM builds`)
	return n, err
}

// Delete removes a single build row (retention-driven; §3's only
// exception to terminal-state immutability).
func (s *BuildStore) Delete(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM builds WHERE id = ?`), id)
	return err
}
