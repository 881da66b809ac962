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

package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar"
	"github.com/docker/docker/api/types/container"
	units "github.com/docker/go-units"
	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/ando-ci/ando/core"
)

// excludedDirs are never staged into the container workspace, matched
// against the base name of any directory encountered while walking
// hostRoot.
var excludedDirs = []string{
	".git", "node_modules", "bin", "obj", ".vs", ".idea", "packages",
	"TestResults", "coverage", ".pytest_cache", "__pycache__", "dist",
	"build", "target",
}

func isExcludedDir(name string) bool {
	for _, pattern := range excludedDirs {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// StageProject copies hostRoot's files into handle's container workspace,
// skipping the fixed exclusion list. Every build re-stages so the
// container always sees fresh source; build-tool caches left inside the
// container (e.g. node_modules installed by a prior run) are untouched
// because they are never removed, only overwritten by what is staged.
func (m *Manager) StageProject(ctx context.Context, handle *core.ContainerHandle, hostRoot string) error {
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)

	err := filepath.Walk(hostRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(hostRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && isExcludedDir(info.Name()) {
			return filepath.SkipDir
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("container: stage project %s: %w", hostRoot, err)
	}
	if err := tw.Close(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"container": handle.Name,
		"size":      units.HumanSize(float64(buf.Len())),
		"digest":    digest.FromBytes(buf.Bytes()),
	}).Debugln("container: staging project files")

	return m.docker.CopyToContainer(ctx, handle.ID, m.workspace, buf, container.CopyToContainerOptions{
		AllowOverwriteDirExists: true,
	})
}

// CleanArtifacts empties the artifacts directory inside handle's
// workspace by execing a removal command and recreating it, the way a
// shell rebuild step would between runs.
func (m *Manager) CleanArtifacts(ctx context.Context, handle *core.ContainerHandle) error {
	dir := m.workspace + "/artifacts"
	return m.exec(ctx, handle, []string{"sh", "-c", fmt.Sprintf("rm -rf %s && mkdir -p %s", dir, dir)})
}

func (m *Manager) exec(ctx context.Context, handle *core.ContainerHandle, cmd []string) error {
	created, err := m.docker.ContainerExecCreate(ctx, handle.ID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("container: exec create: %w", err)
	}
	resp, err := m.docker.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("container: exec attach: %w", err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp.Reader); err != nil {
		return fmt.Errorf("container: exec drain output: %w", err)
	}
	inspect, err := m.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("container: exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("container: exec %v exited %d", cmd, inspect.ExitCode)
	}
	return nil
}
