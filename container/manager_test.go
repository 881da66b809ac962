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
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ando-ci/ando/core"
)

type fakeDocker struct {
	containers []types.Container
	inspected  map[string]types.ContainerJSON
	created    *container.Config
	createName string
	started    []string
	removed    []string
	pulled     []string
}

func (f *fakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	name := extractNameFilter(options)
	var out []types.Container
	for _, c := range f.containers {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func extractNameFilter(options container.ListOptions) string {
	for _, arg := range options.Filters.Get("name") {
		return strings.Trim(arg, "^/$")
	}
	return ""
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	c, ok := f.inspected[id]
	if !ok {
		return types.ContainerJSON{}, errNotFound
	}
	return c, nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.created = config
	f.createName = containerName
	return container.CreateResponse{ID: "new-id"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, options container.StartOptions) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, id string, cond container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	status := make(chan container.WaitResponse, 1)
	status <- container.WaitResponse{StatusCode: 0}
	return status, make(chan error, 1)
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, id string, config container.ExecOptions) (types.IDResponse, error) {
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	return types.HijackedResponse{Conn: fakeConn{}, Reader: bufio.NewReader(strings.NewReader(""))}, nil
}

// fakeConn is a no-op net.Conn so HijackedResponse.Close does not panic
// on a nil interface when the test exercises exec paths.
type fakeConn struct{}

func (fakeConn) Read(b []byte) (int, error)         { return 0, io.EOF }
func (fakeConn) Write(b []byte) (int, error)        { return len(b), nil }
func (fakeConn) Close() error                       { return nil }
func (fakeConn) LocalAddr() net.Addr                { return nil }
func (fakeConn) RemoteAddr() net.Addr               { return nil }
func (fakeConn) SetDeadline(t time.Time) error      { return nil }
func (fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (fakeConn) SetWriteDeadline(t time.Time) error  { return nil }

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{ExitCode: 0}, nil
}

func (f *fakeDocker) CopyToContainer(ctx context.Context, id, dst string, content io.Reader, options container.CopyToContainerOptions) error {
	_, err := io.Copy(io.Discard, content)
	return err
}

func (f *fakeDocker) CopyFromContainer(ctx context.Context, id, src string) (io.ReadCloser, container.PathStat, error) {
	return io.NopCloser(strings.NewReader("")), container.PathStat{}, nil
}

func (f *fakeDocker) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return nil, nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader("")), nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func TestContainerNameDeterministic(t *testing.T) {
	cfg := core.ContainerConfig{ProjectSlug: "Acme/Widgets", ScriptHash: "abcdef0123456789", Image: "golang:1.21"}
	name1 := Name(cfg)
	name2 := Name(cfg)
	if name1 != name2 {
		t.Fatalf("Name is not deterministic: %q vs %q", name1, name2)
	}
	if !strings.HasPrefix(name1, "ando-acme-widgets-") {
		t.Fatalf("unexpected name: %q", name1)
	}
	if !strings.HasSuffix(name1, "abcdef012345") {
		t.Fatalf("expected 12-char hash prefix suffix, got %q", name1)
	}

	changed := cfg
	changed.ScriptHash = "ffffffffffffffff"
	if Name(changed) == name1 {
		t.Fatalf("expected name to roll over when script hash changes")
	}
}

func TestTranslatePath(t *testing.T) {
	workspace := "/workspace"
	hostRoot := "/home/build/acme-widgets"

	cases := []struct {
		arg  string
		want string
	}{
		{"/workspace/artifacts/out.zip", "/workspace/artifacts/out.zip"},
		{"/home/build/acme-widgets/src/main.go", "/workspace/src/main.go"},
		{"src/main.go", "/workspace/src/main.go"},
		{"/etc/passwd", "/etc/passwd"},
	}
	for _, c := range cases {
		got := TranslatePath(workspace, hostRoot, c.arg)
		if got != c.want {
			t.Errorf("TranslatePath(%q) = %q, want %q", c.arg, got, c.want)
		}
	}
}

func TestIsExcludedDir(t *testing.T) {
	for _, name := range []string{".git", "node_modules", "dist", "__pycache__"} {
		if !isExcludedDir(name) {
			t.Errorf("expected %q to be excluded", name)
		}
	}
	if isExcludedDir("src") {
		t.Errorf("did not expect src to be excluded")
	}
}

func TestEnsureContainerCreatesWhenMissing(t *testing.T) {
	docker := &fakeDocker{}
	m := NewManager(docker, t.TempDir())

	cfg := core.ContainerConfig{ProjectSlug: "acme/widgets", ScriptHash: HashScript([]byte("echo hi")), Image: "golang:1.21"}
	handle, err := m.EnsureContainer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.ID != "new-id" {
		t.Fatalf("expected new container to be created, got handle %+v", handle)
	}
	if docker.created == nil || docker.created.Image != cfg.Image {
		t.Fatalf("expected ContainerCreate to be called with image %q", cfg.Image)
	}
	if len(docker.started) != 1 || docker.started[0] != "new-id" {
		t.Fatalf("expected the new container to be started, got %v", docker.started)
	}
}

func TestEnsureContainerReusesRunning(t *testing.T) {
	cfg := core.ContainerConfig{ProjectSlug: "acme/widgets", ScriptHash: HashScript([]byte("echo hi")), Image: "golang:1.21"}
	name := Name(cfg)

	docker := &fakeDocker{
		containers: []types.Container{{ID: "existing-id", Names: []string{"/" + name}, State: "running"}},
	}
	m := NewManager(docker, t.TempDir())

	handle, err := m.EnsureContainer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.ID != "existing-id" {
		t.Fatalf("expected reuse of existing container, got %+v", handle)
	}
	if docker.created != nil {
		t.Fatalf("did not expect ContainerCreate to be called")
	}
	if len(docker.started) != 0 {
		t.Fatalf("did not expect a running container to be (re)started")
	}
}
