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

package executor

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ando-ci/ando/container"
	"github.com/ando-ci/ando/core"
)

// fakeDocker is a minimal container.DockerAPI stand-in producing a fixed
// multiplexed stdout/stderr stream for ContainerExecAttach, exercising
// Container.Run's stdcopy demux path end to end.
type fakeDocker struct {
	exitCode int
}

func (f *fakeDocker) ContainerList(ctx context.Context, options dockercontainer.ListOptions) ([]types.Container, error) {
	return nil, nil
}
func (f *fakeDocker) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	return types.ContainerJSON{}, nil
}
func (f *fakeDocker) ContainerCreate(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (dockercontainer.CreateResponse, error) {
	return dockercontainer.CreateResponse{}, nil
}
func (f *fakeDocker) ContainerStart(ctx context.Context, id string, options dockercontainer.StartOptions) error {
	return nil
}
func (f *fakeDocker) ContainerWait(ctx context.Context, id string, cond dockercontainer.WaitCondition) (<-chan dockercontainer.WaitResponse, <-chan error) {
	return nil, nil
}
func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, options dockercontainer.RemoveOptions) error {
	return nil
}
func (f *fakeDocker) ContainerExecCreate(ctx context.Context, id string, config dockercontainer.ExecOptions) (types.IDResponse, error) {
	return types.IDResponse{ID: "exec-1"}, nil
}
func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, config dockercontainer.ExecAttachOptions) (types.HijackedResponse, error) {
	return types.HijackedResponse{Conn: fakeConn{}, Reader: bufio.NewReader(stdcopyFrame("line one\n", "warning: two\n"))}, nil
}
func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (dockercontainer.ExecInspect, error) {
	return dockercontainer.ExecInspect{ExitCode: f.exitCode}, nil
}
func (f *fakeDocker) CopyToContainer(ctx context.Context, id, dst string, content io.Reader, options dockercontainer.CopyToContainerOptions) error {
	return nil
}
func (f *fakeDocker) CopyFromContainer(ctx context.Context, id, src string) (io.ReadCloser, dockercontainer.PathStat, error) {
	return io.NopCloser(bytes.NewReader(nil)), dockercontainer.PathStat{}, nil
}
func (f *fakeDocker) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return nil, nil
}
func (f *fakeDocker) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

type fakeConn struct{}

func (fakeConn) Read(b []byte) (int, error)        { return 0, io.EOF }
func (fakeConn) Write(b []byte) (int, error)       { return len(b), nil }
func (fakeConn) Close() error                      { return nil }
func (fakeConn) LocalAddr() net.Addr               { return nil }
func (fakeConn) RemoteAddr() net.Addr              { return nil }
func (fakeConn) SetDeadline(t time.Time) error     { return nil }
func (fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// stdcopyFrame builds a Docker-multiplexed stream with one stdout and one
// stderr frame, the 8-byte-header wire format stdcopy.StdCopy decodes.
func stdcopyFrame(stdout, stderr string) *bytes.Reader {
	buf := new(bytes.Buffer)
	writeFrame(buf, 1, stdout)
	writeFrame(buf, 2, stderr)
	return bytes.NewReader(buf.Bytes())
}

func writeFrame(buf *bytes.Buffer, streamType byte, payload string) {
	header := make([]byte, 8)
	header[0] = streamType
	n := len(payload)
	header[4] = byte(n >> 24)
	header[5] = byte(n >> 16)
	header[6] = byte(n >> 8)
	header[7] = byte(n)
	buf.Write(header)
	buf.WriteString(payload)
}

func TestContainerRunDemuxesOutput(t *testing.T) {
	docker := &fakeDocker{exitCode: 0}
	mgr := container.NewManager(docker, t.TempDir())
	exec := NewContainer(mgr)

	lines := make(chan core.ExecLine, 16)
	result, err := exec.Run(context.Background(), core.ExecRequest{
		Command: "go",
		Args:    []string{"build", "./..."},
		Handle:  &core.ContainerHandle{ID: "c1"},
	}, lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	var stdout, stderr []string
	for line := range lines {
		if line.Stderr {
			stderr = append(stderr, line.Text)
		} else {
			stdout = append(stdout, line.Text)
		}
	}
	if len(stdout) != 1 || stdout[0] != "line one" {
		t.Fatalf("unexpected stdout: %v", stdout)
	}
	if len(stderr) != 1 || stderr[0] != "warning: two" {
		t.Fatalf("unexpected stderr: %v", stderr)
	}
}

func TestContainerRunMissingHandle(t *testing.T) {
	mgr := container.NewManager(&fakeDocker{}, t.TempDir())
	exec := NewContainer(mgr)
	lines := make(chan core.ExecLine, 1)
	_, err := exec.Run(context.Background(), core.ExecRequest{Command: "echo"}, lines)
	if err != ErrNoHandle {
		t.Fatalf("expected ErrNoHandle, got %v", err)
	}
}

func TestContainerRunNonZeroExit(t *testing.T) {
	docker := &fakeDocker{exitCode: 1}
	mgr := container.NewManager(docker, t.TempDir())
	exec := NewContainer(mgr)

	lines := make(chan core.ExecLine, 16)
	result, err := exec.Run(context.Background(), core.ExecRequest{
		Command: "make",
		Handle:  &core.ContainerHandle{ID: "c1"},
	}, lines)
	for range lines {
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.ExitCode != 1 {
		t.Fatalf("expected failing result, got %+v", result)
	}
}
