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

// SettingsStore is the sqlx-backed core.SettingsStore. SystemSettings is
// a singleton row with id = 1, created lazily on first Get.
type SettingsStore struct {
	*Store
}

// NewSettingsStore returns a settings repository bound to s.
func NewSettingsStore(s *Store) *SettingsStore {
	return &SettingsStore{Store: s}
}

// Get reads the singleton settings row, creating it with defaults if it
// does not yet exist.
func (s *SettingsStore) Get(ctx context.Context) (*core.SystemSettings, error) {
	var settings core.SystemSettings
	query := `SELECT id, allow_self_register, log_retention_days, artifact_retention_days
		FROM system_settings WHERE id = 1`
	err := s.DB.GetContext(ctx, &settings, query)
	if err == nil {
		return &settings, nil
	}
	if !isNoRows(err) {
		return nil, err
	}
	settings = core.SystemSettings{ID: 1, LogRetentionDays: 90, ArtifactRetentionDays: 30}
	insert := `INSERT INTO system_settings (id, allow_self_register, log_retention_days, artifact_retention_days)
		VALUES (1, ?, ?, ?)`
	if _, err := s.DB.ExecContext(ctx, s.rebind(insert), settings.AllowSelfRegister, settings.LogRetentionDays, settings.ArtifactRetentionDays); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Update overwrites the singleton settings row; only an administrator
// calls this.
func (s *SettingsStore) Update(ctx context.Context, settings *core.SystemSettings) error {
	query := s.rebind(`UPDATE system_settings SET
		allow_self_register = ?, log_retention_days = ?, artifact_retention_days = ?
		WHERE id = 1`)
	_, err := s.DB.ExecContext(ctx, query, settings.AllowSelfRegister, settings.LogRetentionDays, settings.ArtifactRetentionDays)
	return err
}
