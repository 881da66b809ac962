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

// LogStore is the sqlx-backed core.LogStore, indexed by (build_id, sequence).
type LogStore struct {
	*Store
}

// NewLogStore returns a log repository bound to s.
func NewLogStore(s *Store) *LogStore {
	return &LogStore{Store: s}
}

// Append persists a single log entry. The caller (livelog) has already
// assigned entry.Sequence atomically; this call must not reorder it.
func (s *LogStore) Append(ctx context.Context, entry *core.BuildLogEntry) error {
	query := s.rebind(`INSERT INTO build_log_entries
		(build_id, sequence, type, message, step_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.DB.ExecContext(ctx, query,
		entry.BuildID, entry.Sequence, entry.Type, entry.Message, entry.StepName, entry.Timestamp,
	)
	return err
}

// GetSince returns entries of buildID with sequence > after, ascending,
// capped at limit. Satisfies I4.
func (s *LogStore) GetSince(ctx context.Context, buildID int64, after uint32, limit int) ([]*core.BuildLogEntry, error) {
	var entries []*core.BuildLogEntry
	query := s.rebind(`SELECT build_id, sequence, type, message, step_name, timestamp
		FROM build_log_entries
		WHERE build_id = ? AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?`)
	if err := s.DB.SelectContext(ctx, &entries, query, buildID, after, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

// MaxSequence returns the highest sequence persisted for buildID, or 0 if
// none exist. Used to reload the allocator after a controller restart.
func (s *LogStore) MaxSequence(ctx context.Context, buildID int64) (uint32, error) {
	var max uint32
	query := s.rebind(`SELECT COALESCE(MAX(sequence), 0) FROM build_log_entries WHERE build_id = ?`)
	err := s.DB.GetContext(ctx, &max, query, buildID)
	return max, err
}

// DeleteOlderThan removes log entries whose timestamp predates cutoff,
// used by the retention sweeper.
func (s *LogStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	query := s.rebind(`DELETE FROM build_log_entries WHERE timestamp < ?`)
	res, err := s.DB.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
