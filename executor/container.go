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
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	dockertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/ando-ci/ando/container"
	"github.com/ando-ci/ando/core"
)

// ErrNoHandle is returned when a Container executor is asked to run a
// request with no container handle attached.
var ErrNoHandle = errors.New("executor: container request missing a handle")

// Container runs commands inside a warm container via its exec API, the
// target used for ordinary (non-host) build steps.
type Container struct {
	manager *container.Manager
}

// NewContainer returns a Container executor bound to manager, the same
// Manager that staged the project files the commands will operate on.
func NewContainer(manager *container.Manager) *Container {
	return &Container{manager: manager}
}

// Run implements core.StepExecutor. req.Dir, when set, is assumed
// already translated into container-workspace space by the caller
// (container.TranslatePath); an empty Dir defaults to the workspace root.
func (c *Container) Run(ctx context.Context, req core.ExecRequest, lines chan<- core.ExecLine) (*core.ExecResult, error) {
	defer close(lines)

	if req.Handle == nil {
		return nil, ErrNoHandle
	}
	workdir := req.Dir
	if workdir == "" {
		workdir = c.manager.Workspace()
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = core.DefaultCommandTimeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout != core.Unlimited {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	docker := c.manager.Docker()
	created, err := docker.ContainerExecCreate(runCtx, req.Handle.ID, dockertypes.ExecOptions{
		Cmd:          append([]string{req.Command}, req.Args...),
		Env:          envSlice(req.Env),
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: exec create: %w", err)
	}

	resp, err := docker.ContainerExecAttach(runCtx, created.ID, dockertypes.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("executor: exec attach: %w", err)
	}
	defer resp.Close()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	var group errgroup.Group
	group.Go(func() error {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, resp.Reader)
		stdoutW.CloseWithError(copyErr)
		stderrW.CloseWithError(copyErr)
		return copyErr
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(stdoutR, false, lines, &wg)
	go streamLines(stderrR, true, lines, &wg)
	wg.Wait()
	_ = group.Wait()

	if runCtx.Err() != nil {
		return &core.ExecResult{ExitCode: -1, Success: false}, runCtx.Err()
	}

	inspect, err := docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("executor: exec inspect: %w", err)
	}
	return &core.ExecResult{ExitCode: inspect.ExitCode, Success: inspect.ExitCode == 0}, nil
}

// IsAvailable always reports true for the container target: core's
// StepExecutor contract has no handle argument to probe against, and the
// image is the project's own declared choice, so an actual missing
// command surfaces as the step's own non-zero exit rather than here.
func (c *Container) IsAvailable(ctx context.Context, command string) bool {
	return true
}

func envSlice(overlay map[string]string) []string {
	env := make([]string, 0, len(overlay))
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}
