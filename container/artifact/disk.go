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

package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Disk is the default Backend: artifacts live under root, one directory
// per project and build.
type Disk struct {
	root string
}

// NewDisk returns a disk-backed Backend rooted at dir.
func NewDisk(dir string) *Disk {
	return &Disk{root: dir}
}

func (d *Disk) path(projectID, buildID int64, name string) string {
	return filepath.Join(d.root, strconv.FormatInt(projectID, 10), strconv.FormatInt(buildID, 10), name)
}

func (d *Disk) Put(ctx context.Context, projectID, buildID int64, name string, content io.Reader) (int64, error) {
	dest := d.path(projectID, buildID, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("artifact: mkdir %s: %w", filepath.Dir(dest), err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("artifact: create %s: %w", dest, err)
	}
	defer f.Close()
	n, err := io.Copy(f, content)
	if err != nil {
		return n, fmt.Errorf("artifact: write %s: %w", dest, err)
	}
	return n, nil
}

func (d *Disk) Open(ctx context.Context, projectID, buildID int64, name string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(projectID, buildID, name))
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", name, err)
	}
	return f, nil
}

func (d *Disk) Delete(ctx context.Context, projectID, buildID int64, name string) error {
	err := os.Remove(d.path(projectID, buildID, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifact: delete %s: %w", name, err)
	}
	return nil
}
