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

package orchestrator

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/ando-ci/ando/container/artifact"
	"github.com/ando-ci/ando/core"
)

// defaultRetentionSchedule runs the sweep once an hour; expiry is judged
// to day granularity so finer scheduling buys nothing.
const defaultRetentionSchedule = "0 0 * * * *"

// Sweeper deletes expired build artifacts and old log entries. Artifact
// expiry is precomputed per-row at write time (core.BuildArtifact.ExpiresAt,
// see Orchestrator.artifactRetention); log retention is read fresh from the
// system settings row on every sweep. Retention is a single global knob —
// there is no per-project override anywhere in core.Project.
type Sweeper struct {
	settings  core.SettingsStore
	artifacts core.ArtifactStore
	backend   artifact.Backend
	logs      core.LogStore

	cron *cron.Cron
}

// NewSweeper builds a Sweeper; call Start to begin the scheduled sweep.
func NewSweeper(settings core.SettingsStore, artifacts core.ArtifactStore, backend artifact.Backend, logs core.LogStore) *Sweeper {
	return &Sweeper{settings: settings, artifacts: artifacts, backend: backend, logs: logs, cron: cron.New()}
}

// Start schedules the recurring sweep and runs one pass immediately so a
// freshly started controller doesn't wait an hour for its first cleanup.
func (s *Sweeper) Start(ctx context.Context) error {
	if err := s.cron.AddFunc(defaultRetentionSchedule, func() { s.sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	go s.sweep(ctx)
	return nil
}

// Stop halts the schedule; in-flight sweeps are allowed to finish.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep(ctx context.Context) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		logrus.WithError(err).Warnln("orchestrator: sweeper cannot load system settings")
		return
	}

	now := time.Now()
	s.sweepArtifacts(ctx, now)
	s.sweepLogs(ctx, now, settings.LogRetentionDays)
}

func (s *Sweeper) sweepArtifacts(ctx context.Context, now time.Time) {
	expired, err := s.artifacts.ListExpired(ctx, now.Unix())
	if err != nil {
		logrus.WithError(err).Warnln("orchestrator: sweeper cannot list expired artifacts")
		return
	}
	if len(expired) == 0 {
		return
	}

	var result *multierror.Error
	var reclaimed int64
	for _, a := range expired {
		if err := s.backend.Delete(ctx, a.ProjectID, a.BuildID, a.Name); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := s.artifacts.Delete(ctx, a.ID); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		reclaimed += a.SizeBytes
	}
	if err := result.ErrorOrNil(); err != nil {
		logrus.WithError(err).Warnln("orchestrator: sweeper had artifact cleanup errors")
	}
	logrus.Infof("orchestrator: sweeper removed %d expired artifacts (%s reclaimed)", len(expired), humanize.Bytes(uint64(reclaimed)))
}

func (s *Sweeper) sweepLogs(ctx context.Context, now time.Time, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -retentionDays).Unix()
	deleted, err := s.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logrus.WithError(err).Warnln("orchestrator: sweeper cannot delete old log entries")
		return
	}
	if deleted > 0 {
		logrus.Infof("orchestrator: sweeper deleted %s old log entries older than %s", humanize.Comma(deleted), humanize.Time(now.AddDate(0, 0, -retentionDays)))
	}
}
