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

// BuildRunner describes the Build Orchestrator (C4) operations as one
// interface. orchestrator.Orchestrator does not implement it: builds are
// run by its internal worker pool rather than through a Run method, and
// its Cancel takes only a build ID, returns nothing and acts on running
// builds only (queued builds are cancelled through orchestrator.Queue).
type BuildRunner interface {
	// Run drives a queued build through its state machine to a terminal
	// status. It is invoked once by a worker that has dequeued the build.
	Run(ctx context.Context, buildID int64) error
	// Cancel transitions a Queued build to Cancelled by dequeuing, or a
	// Running build to Cancelled by signaling its executor. Idempotent.
	Cancel(ctx context.Context, buildID int64) error
	// Retry creates a new build with the same commit/branch/metadata as
	// buildID but Trigger=Manual. buildID must be in a terminal failure
	// state (Failed, Cancelled or TimedOut).
	Retry(ctx context.Context, buildID int64) (*Build, error)
}
