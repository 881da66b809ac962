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

// Package artifact stores the content backing a core.BuildArtifact row,
// content storage is deliberately kept separate from S1's metadata rows
// (see core.ArtifactStore) so the same metadata schema works whether the
// bytes live on local disk or in an object store.
package artifact

import (
	"context"
	"io"
)

// Backend persists and retrieves the byte content of a single artifact,
// addressed by (projectID, buildID, name) per spec.md's
// "{root}/{project_id}/{build_id}/{filename}" layout.
type Backend interface {
	// Put stores content, returning the number of bytes written.
	Put(ctx context.Context, projectID, buildID int64, name string, content io.Reader) (int64, error)
	// Open returns a reader for a previously stored artifact.
	Open(ctx context.Context, projectID, buildID int64, name string) (io.ReadCloser, error)
	// Delete removes a stored artifact; deleting a missing artifact is not
	// an error, matching the retention sweeper's best-effort cleanup.
	Delete(ctx context.Context, projectID, buildID int64, name string) error
}
