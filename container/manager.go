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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/docker/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/sirupsen/logrus"

	"github.com/ando-ci/ando/core"
)

// DefaultWorkspace is the mount point inside a warm container where a
// project's files are staged, matching spec.md's "configured workspace
// mount point (default /workspace)".
const DefaultWorkspace = "/workspace"

// keepAliveCmd is the long-running no-op command used to keep a freshly
// created container alive between builds; it is intentionally dependency
// free so it runs inside any image.
var keepAliveCmd = []string{"tail", "-f", "/dev/null"}

// Manager implements core.ContainerManager over a Docker engine client.
type Manager struct {
	docker    DockerAPI
	registry  *registry
	workspace string
}

// NewManager returns a Manager. registryDir is where the warm-container
// name-to-id cache is persisted between controller restarts (an
// optimization; Docker itself remains authoritative).
func NewManager(docker DockerAPI, registryDir string) *Manager {
	return &Manager{
		docker:    docker,
		registry:  newRegistry(registryDir),
		workspace: DefaultWorkspace,
	}
}

// EnsureContainer reuses a running container with cfg's deterministic
// name, starts one that exists but is stopped, or creates one from
// cfg.Image with a keep-alive command otherwise.
func (m *Manager) EnsureContainer(ctx context.Context, cfg core.ContainerConfig) (*core.ContainerHandle, error) {
	name := Name(cfg)
	logger := logrus.WithFields(logrus.Fields{"container": name, "image": cfg.Image})

	if id, ok := m.registry.get(name); ok {
		inspect, err := m.docker.ContainerInspect(ctx, id)
		if err == nil && inspect.Name != "" {
			if !inspect.State.Running {
				logger.Debugln("container: starting stopped warm container")
				if err := m.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
					return nil, fmt.Errorf("container: start %s: %w", name, err)
				}
			}
			return &core.ContainerHandle{Name: name, ID: id}, nil
		}
		// stale cache entry; fall through to the authoritative lookup.
		m.registry.forget(name)
	}

	existing, err := m.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return nil, fmt.Errorf("container: list %s: %w", name, err)
	}
	if len(existing) > 0 {
		id := existing[0].ID
		m.registry.put(name, id)
		if existing[0].State != "running" {
			logger.Debugln("container: starting stopped warm container")
			if err := m.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
				return nil, fmt.Errorf("container: start %s: %w", name, err)
			}
		}
		return &core.ContainerHandle{Name: name, ID: id}, nil
	}

	logger.Infoln("container: creating warm container")
	if err := m.pullIfMissing(ctx, cfg.Image); err != nil {
		return nil, err
	}

	created, err := m.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      cfg.Image,
			Cmd:        keepAliveCmd,
			WorkingDir: m.workspace,
		},
		&container.HostConfig{},
		nil, nil, name,
	)
	if err != nil {
		return nil, fmt.Errorf("container: create %s: %w", name, err)
	}
	if err := m.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("container: start %s: %w", name, err)
	}
	if err := m.exec(ctx, &core.ContainerHandle{ID: created.ID}, []string{"mkdir", "-p", m.workspace + "/artifacts"}); err != nil {
		logger.WithError(err).Warnln("container: cannot pre-create artifacts directory")
	}
	m.registry.put(name, created.ID)
	return &core.ContainerHandle{Name: name, ID: created.ID}, nil
}

func (m *Manager) pullIfMissing(ctx context.Context, ref string) error {
	normalized, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return fmt.Errorf("container: invalid image reference %q: %w", ref, err)
	}
	canonical := normalized.String()

	images, err := m.docker.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", canonical)),
	})
	if err == nil && len(images) > 0 {
		return nil
	}

	rc, err := m.docker.ImagePull(ctx, canonical, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("container: pull %s: %w", canonical, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// CopyOut copies containerPath out of handle's container to hostPath,
// fixing file ownership to the invoking user on Unix once extracted,
// mirroring the build-container ownership fix otherwise needed at
// container-create time for bind mounts (this manager never bind-mounts,
// so the fix instead runs here, after extraction).
func (m *Manager) CopyOut(ctx context.Context, handle *core.ContainerHandle, containerPath, hostPath string) error {
	rc, _, err := m.docker.CopyFromContainer(ctx, handle.ID, containerPath)
	if err != nil {
		return fmt.Errorf("container: copy out %s: %w", containerPath, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(rc)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("container: read copy-out tar: %w", err)
		}
		dest := filepath.Join(hostPath, filepath.FromSlash(header.Name))
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		fixOwnership(dest)
	}
	return nil
}

// Remove forcibly removes the named container, used on explicit
// operator clean-up or when a project's image override changes.
func (m *Manager) Remove(ctx context.Context, name string) error {
	existing, err := m.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return fmt.Errorf("container: list %s: %w", name, err)
	}
	m.registry.forget(name)
	if len(existing) == 0 {
		return nil
	}
	if err := m.docker.ContainerRemove(ctx, existing[0].ID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container: remove %s: %w", name, err)
	}
	return nil
}

// TranslatePath applies the C1 path-translation rule: arguments already
// inside the container workspace are passed unchanged, host-absolute
// paths inside the project root are rewritten relative to the
// container workspace, and relative paths are resolved against it.
func TranslatePath(workspace, hostRoot, arg string) string {
	if strings.HasPrefix(arg, workspace) {
		return arg
	}
	if filepath.IsAbs(arg) {
		rel, err := filepath.Rel(hostRoot, arg)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(filepath.Join(workspace, rel))
		}
		return arg
	}
	return filepath.ToSlash(filepath.Join(workspace, arg))
}

// Docker exposes the underlying client for package executor's
// container-target step execution, which needs raw exec streaming that
// Manager's own helpers intentionally keep unexported and minimal.
func (m *Manager) Docker() DockerAPI { return m.docker }

// Workspace returns the configured container workspace mount point.
func (m *Manager) Workspace() string { return m.workspace }

func fixOwnership(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	_ = os.Chown(path, os.Getuid(), os.Getgid())
}
