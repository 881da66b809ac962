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

import (
	"context"
	"strings"
)

// Project binds a version-controlled repository to build configuration.
type Project struct {
	ID               int64  `db:"id" json:"id"`
	ExternalID       string `db:"external_id" json:"external_id"`
	Owner            string `db:"owner" json:"owner"`
	Name             string `db:"name" json:"name"`
	DefaultBranch    string `db:"default_branch" json:"default_branch"`
	InstallationID   string `db:"installation_id" json:"installation_id,omitempty"`
	WebhookSecret    string `db:"webhook_secret" json:"-"`
	BranchFilter     string `db:"branch_filter" json:"branch_filter,omitempty"`
	EnablePRBuilds   bool   `db:"enable_pr_builds" json:"enable_pr_builds"`
	TimeoutMinutes   int    `db:"timeout_minutes" json:"timeout_minutes"`
	Image            string `db:"image" json:"image,omitempty"`
	Profile          string `db:"profile" json:"profile,omitempty"`
	RequiredSecrets  string `db:"required_secrets" json:"required_secrets,omitempty"`
	NotifyEndpoints  string `db:"notify_endpoints" json:"notify_endpoints,omitempty"`
	LastBuildAt      int64  `db:"last_build_at" json:"last_build_at,omitempty"`
	CreatedAt        int64  `db:"created_at" json:"created_at"`
}

// Slug returns the owner/name repository slug.
func (p *Project) Slug() string {
	return p.Owner + "/" + p.Name
}

// DefaultTimeoutMinutes is used when a project does not override it.
const DefaultTimeoutMinutes = 15

// MatchesBranch reports whether branch passes the project's branch filter.
// An empty filter matches every branch. Names are compared case-insensitively
// after trimming whitespace around each comma-separated entry.
func (p *Project) MatchesBranch(branch string) bool {
	filter := strings.TrimSpace(p.BranchFilter)
	if filter == "" {
		return true
	}
	for _, name := range strings.Split(filter, ",") {
		if strings.EqualFold(strings.TrimSpace(name), branch) {
			return true
		}
	}
	return false
}

// RequiredSecretNames splits the comma-separated RequiredSecrets column.
func (p *Project) RequiredSecretNames() []string {
	return splitTrimmed(p.RequiredSecrets)
}

// NotifyEndpointList splits the comma-separated NotifyEndpoints column.
func (p *Project) NotifyEndpointList() []string {
	return splitTrimmed(p.NotifyEndpoints)
}

func splitTrimmed(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ProjectStore persists projects.
type ProjectStore interface {
	Find(ctx context.Context, id int64) (*Project, error)
	FindByExternalID(ctx context.Context, externalID string) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	Create(ctx context.Context, project *Project) error
	Update(ctx context.Context, project *Project) error
	// Delete removes the project and cascades to its builds, log entries,
	// artifacts and secrets.
	Delete(ctx context.Context, id int64) error
}

// ProjectSecret is a write-only, name-addressed encrypted value injected
// into a build's container environment.
type ProjectSecret struct {
	ProjectID      int64  `db:"project_id" json:"project_id"`
	Name           string `db:"name" json:"name"`
	EncryptedValue []byte `db:"encrypted_value" json:"-"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
}

// SecretNamePattern is the required shape of a secret name:
// ^[A-Z_][A-Z0-9_]*$
const SecretNamePattern = `^[A-Z_][A-Z0-9_]*$`

// SecretStore persists project secrets.
type SecretStore interface {
	List(ctx context.Context, projectID int64) ([]*ProjectSecret, error)
	Find(ctx context.Context, projectID int64, name string) (*ProjectSecret, error)
	Upsert(ctx context.Context, secret *ProjectSecret) error
	Delete(ctx context.Context, projectID int64, name string) error
}

// SystemSettings is the singleton configuration row.
type SystemSettings struct {
	ID                 int64 `db:"id" json:"id"`
	AllowSelfRegister  bool  `db:"allow_self_register" json:"allow_self_register"`
	LogRetentionDays   int   `db:"log_retention_days" json:"log_retention_days"`
	ArtifactRetentionDays int `db:"artifact_retention_days" json:"artifact_retention_days"`
}

// SettingsStore reads/writes the singleton SystemSettings row.
type SettingsStore interface {
	Get(ctx context.Context) (*SystemSettings, error)
	Update(ctx context.Context, settings *SystemSettings) error
}
