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

// Hook is the normalized representation of a forge webhook event, produced
// by trigger/parser from the raw JSON body.
type Hook struct {
	Event             string // "push" | "pull_request" | "ping"
	Action            string // pull_request action: "opened", "synchronize", "closed", ...
	DeliveryID        string
	RepoExternalID    string
	RepoSlug          string
	InstallationID    string
	Ref               string
	Before            string
	After             string
	Branch            string
	Message           string
	AuthorName        string
	AuthorEmail       string
	PullRequestNumber int
	PullRequestTitle  string
	BaseBranch        string
}

// AllZeroSHA is the sentinel commit sha GitHub sends on branch deletion.
const AllZeroSHA = "0000000000000000000000000000000000000000"

// DispatchOutcome is the result of handling one webhook delivery.
type DispatchOutcome string

// outcomes.
const (
	OutcomeAccepted     DispatchOutcome = "accepted"
	OutcomeIgnored      DispatchOutcome = "ignored"
	OutcomeUnauthorized DispatchOutcome = "unauthorized"
)

// DispatchResult is returned by Dispatcher.HandleWebhook.
type DispatchResult struct {
	Outcome DispatchOutcome
	BuildID int64
	Reason  string
}

// Dispatcher is the public contract of the ingress & dispatch component (C5).
type Dispatcher interface {
	HandleWebhook(ctx context.Context, eventType string, headers map[string]string, rawBody []byte) (*DispatchResult, error)
	TriggerManual(ctx context.Context, projectID int64, actor string, branch string) (*Build, []string, error)
}

// CommitLookup resolves commit metadata from the forge when a webhook
// payload omits it.
type CommitLookup interface {
	FindCommit(ctx context.Context, installationID, repoSlug, sha string) (message, authorName, authorEmail string, err error)
	ResolveHeadSHA(ctx context.Context, installationID, repoSlug, branch string) (string, error)
}

// StatusService posts a commit status back to the forge.
type StatusService interface {
	Send(ctx context.Context, installationID, repoSlug string, build *Build) error
}

// WebhookSender fans build lifecycle events out to configured HTTP
// endpoints (outbound notifications), independent of the inbound forge
// webhook this controller receives.
type WebhookSender interface {
	Send(ctx context.Context, endpoints []string, event string, payload interface{}) error
}

// Scheduler enqueues a build for pick-up by a worker (C4).
type Scheduler interface {
	Schedule(ctx context.Context, build *Build) (jobID string, err error)
	Cancel(ctx context.Context, build *Build) error
}

// Triggerer turns a parsed Hook plus its Project into a queued Build. It is
// the seam between C5 and C1/S1 (enqueue happens inside Trigger).
type Triggerer interface {
	Trigger(ctx context.Context, project *Project, hook *Hook) (*Build, error)
}
