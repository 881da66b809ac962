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

// Package container manages warm, per-project Docker containers (C1):
// create/reuse by deterministic name, stage project files into them, copy
// artifacts back out, and tear them down on request.
package container

import (
	"context"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerAPI is the subset of the Docker engine client Manager depends on,
// narrowed to exactly what gets called so a fake can stand in for tests,
// the same way the store package narrows sqlx to its own repositories.
type DockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, config container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// NewDockerClient dials the Docker engine, negotiating the API version and
// honoring the usual DOCKER_HOST/DOCKER_CERT_PATH/DOCKER_TLS_VERIFY
// environment variables unless host overrides them. certPath, when
// non-empty, builds a client TLS config from ca/cert/key files the same
// way the docker CLI does for a remote tcp:// daemon.
func NewDockerClient(host, certPath string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	if runtime.GOOS == "windows" && strings.HasPrefix(host, "npipe://") {
		opts = append(opts, client.WithHTTPClient(namedPipeClient(strings.TrimPrefix(host, "npipe://"))))
	}
	if certPath != "" {
		tlsOpts := tlsconfig.Options{
			CAFile:   certPath + "/ca.pem",
			CertFile: certPath + "/cert.pem",
			KeyFile:  certPath + "/key.pem",
		}
		tlsCfg, err := tlsconfig.Client(tlsOpts)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
			Timeout:   30 * time.Second,
		}))
	}
	return client.NewClientWithOpts(opts...)
}

// namedPipeClient builds an http.Client dialing a Windows named pipe
// Docker endpoint, for controller deployments on Windows containers
// hosts rather than a Unix socket.
func namedPipeClient(pipePath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return winio.DialPipeContext(ctx, pipePath)
			},
		},
		Timeout: 30 * time.Second,
	}
}
