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

// DefaultScriptName is the build-script filename looked for at the
// checked-out repository root when a project does not override it.
const DefaultScriptName = "ando.yml"

// Checkout materializes a build's commit onto the host filesystem so C1's
// StageProject has a host_root to copy into the container workspace. The
// version-control mechanics (git, or any other forge) stay outside core;
// this is the seam the orchestrator depends on.
type Checkout interface {
	// Prepare returns hostRoot, ready for StageProject, and a cleanup
	// func the caller must run once staging has copied the files out.
	Prepare(ctx context.Context, project *Project, build *Build) (hostRoot string, cleanup func(), err error)
}
