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

// ContainerConfig describes the warm container a build needs.
type ContainerConfig struct {
	// ProjectSlug names the owning project, used to build the
	// deterministic container name.
	ProjectSlug string
	// ScriptHash is the hex digest of the build script contents; the
	// container name rolls over when this changes.
	ScriptHash string
	// Image is the container image to create from when no warm
	// container exists yet.
	Image string
}

// ContainerHandle identifies a running or stopped warm container.
type ContainerHandle struct {
	Name string
	ID   string
}

// ContainerManager creates, reuses and operates on warm, per-project
// containers (C1).
type ContainerManager interface {
	// EnsureContainer is idempotent: it reuses a running container with
	// the deterministic name, starts one that exists but is stopped, or
	// creates one from cfg.Image.
	EnsureContainer(ctx context.Context, cfg ContainerConfig) (*ContainerHandle, error)
	// StageProject copies repository files at hostRoot into the
	// container's workspace, excluding well-known build/VCS directories.
	StageProject(ctx context.Context, handle *ContainerHandle, hostRoot string) error
	// CleanArtifacts empties the container's workspace/artifacts directory.
	CleanArtifacts(ctx context.Context, handle *ContainerHandle) error
	// CopyOut copies containerPath out of the container to hostPath, fixing
	// file ownership on Unix after the copy.
	CopyOut(ctx context.Context, handle *ContainerHandle, containerPath, hostPath string) error
	// Remove forcibly removes the named container.
	Remove(ctx context.Context, name string) error
}
