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

// Package core defines the domain types and the interface ports shared by
// the ingress, orchestrator, container, executor and log transport
// components. No package outside core may define a new cross-cutting
// interface; everything is wired through the ports declared here.
package core

import "context"

// BuildStatus enumerates the lifecycle states of a Build.
type BuildStatus string

// build statuses.
const (
	StatusQueued    BuildStatus = "queued"
	StatusRunning   BuildStatus = "running"
	StatusSuccess   BuildStatus = "success"
	StatusFailed    BuildStatus = "failed"
	StatusCancelled BuildStatus = "cancelled"
	StatusTimedOut  BuildStatus = "timed_out"
)

// Terminal reports whether the status will never transition again.
func (s BuildStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Trigger enumerates how a build was initiated.
type Trigger string

// triggers.
const (
	TriggerPush        Trigger = "push"
	TriggerPullRequest Trigger = "pull_request"
	TriggerManual      Trigger = "manual"
)

// Build is one execution attempt of a project's build script.
type Build struct {
	ID                int64       `db:"id" json:"id"`
	ProjectID         int64       `db:"project_id" json:"project_id"`
	CommitSHA         string      `db:"commit_sha" json:"commit_sha"`
	Branch            string      `db:"branch" json:"branch"`
	CommitMessage     string      `db:"commit_message" json:"commit_message,omitempty"`
	CommitAuthor      string      `db:"commit_author" json:"commit_author,omitempty"`
	PullRequestNumber int         `db:"pull_request_number" json:"pull_request_number,omitempty"`
	Status            BuildStatus `db:"status" json:"status"`
	Trigger           Trigger     `db:"trigger" json:"trigger"`
	TotalSteps        int         `db:"total_steps" json:"total_steps"`
	CompletedSteps    int         `db:"completed_steps" json:"completed_steps"`
	FailedSteps       int         `db:"failed_steps" json:"failed_steps"`
	ErrorMessage      string      `db:"error_message" json:"error_message,omitempty"`
	JobID             string      `db:"job_id" json:"-"`
	QueuedAt          int64       `db:"queued_at" json:"queued_at"`
	StartedAt         int64       `db:"started_at" json:"started_at,omitempty"`
	FinishedAt        int64       `db:"finished_at" json:"finished_at,omitempty"`
}

// Duration returns the build's wall-clock run time in seconds, or zero if
// the build has not finished.
func (b *Build) Duration() int64 {
	if b.StartedAt == 0 || b.FinishedAt == 0 {
		return 0
	}
	return b.FinishedAt - b.StartedAt
}

// Retryable reports whether the build is eligible for Retry: it must have
// reached one of the terminal failure/cancellation states.
func (b *Build) Retryable() bool {
	switch b.Status {
	case StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// BuildLogType enumerates the kind of a BuildLogEntry.
type BuildLogType string

// log entry kinds.
const (
	LogStepStarted   BuildLogType = "step_started"
	LogStepCompleted BuildLogType = "step_completed"
	LogStepFailed    BuildLogType = "step_failed"
	LogInfo          BuildLogType = "info"
	LogWarning       BuildLogType = "warning"
	LogError         BuildLogType = "error"
	LogDebug         BuildLogType = "debug"
	LogOutput        BuildLogType = "output"
)

// BuildLogEntry is a single append-only record in a build's log stream.
// Ordering within a build is total and defined by Sequence, never by
// Timestamp.
type BuildLogEntry struct {
	BuildID   int64        `db:"build_id" json:"build_id"`
	Sequence  uint32       `db:"sequence" json:"sequence"`
	Type      BuildLogType `db:"type" json:"type"`
	Message   string       `db:"message" json:"message"`
	StepName  string       `db:"step_name" json:"step_name,omitempty"`
	Timestamp int64        `db:"timestamp" json:"timestamp"`
}

// BuildArtifact is metadata for a file copied out of a build's container.
// The content lives on disk (or an object store) at a path derived from
// ProjectID/BuildID/Name; this row never carries the bytes.
type BuildArtifact struct {
	ID         int64  `db:"id" json:"id"`
	ProjectID  int64  `db:"project_id" json:"project_id"`
	BuildID    int64  `db:"build_id" json:"build_id"`
	Name       string `db:"name" json:"name"`
	SizeBytes  int64  `db:"size_bytes" json:"size_bytes"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	ExpiresAt  int64  `db:"expires_at" json:"expires_at"`
}

// IsExpired reports whether the artifact's retention window has elapsed.
func (a *BuildArtifact) IsExpired(now int64) bool {
	return a.ExpiresAt != 0 && now > a.ExpiresAt
}

// BuildStore persists builds and their log/artifact children.
type BuildStore interface {
	Find(ctx context.Context, id int64) (*Build, error)
	FindByJobID(ctx context.Context, jobID string) (*Build, error)
	List(ctx context.Context, projectID int64, limit, offset int) ([]*Build, error)
	// Create inserts build in StatusQueued and assigns build.ID.
	Create(ctx context.Context, build *Build) error
	Update(ctx context.Context, build *Build) error
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id int64) error
}

// ArtifactStore persists artifact metadata rows. Content storage is a
// separate concern (see container/artifact).
type ArtifactStore interface {
	Create(ctx context.Context, artifact *BuildArtifact) error
	ListByBuild(ctx context.Context, buildID int64) ([]*BuildArtifact, error)
	ListExpired(ctx context.Context, now int64) ([]*BuildArtifact, error)
	Delete(ctx context.Context, id int64) error
}
