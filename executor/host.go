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
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/ando-ci/ando/core"
)

// Host runs commands directly on the controller process, used for steps
// that don't need container isolation (and for nested CLI invocations in
// interactive mode).
type Host struct{}

// NewHost returns a Host executor.
func NewHost() *Host {
	return &Host{}
}

// Run implements core.StepExecutor. Arguments are passed as an argv
// list; the command is never handed to a shell.
func (h *Host) Run(ctx context.Context, req core.ExecRequest, lines chan<- core.ExecLine) (*core.ExecResult, error) {
	defer close(lines)

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

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(req.Env)
	setProcessGroup(cmd)

	if req.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		err := runWithTimeout(runCtx, cmd)
		return resultFromErr(err, runCtx)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("executor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("executor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("executor: start %s: %w", req.Command, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(stdout, false, lines, &wg)
	go streamLines(stderr, true, lines, &wg)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-runCtx.Done():
		killProcessGroup(cmd)
		waitErr = <-done
		wg.Wait()
		return &core.ExecResult{ExitCode: -1, Success: false}, runCtx.Err()
	case waitErr = <-done:
	}
	wg.Wait()
	return resultFromErr(waitErr, runCtx)
}

// IsAvailable probes whether command can be located on PATH.
func (h *Host) IsAvailable(ctx context.Context, command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

func runWithTimeout(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func resultFromErr(err error, ctx context.Context) (*core.ExecResult, error) {
	if ctx.Err() != nil {
		return &core.ExecResult{ExitCode: -1, Success: false}, ctx.Err()
	}
	if err == nil {
		return &core.ExecResult{ExitCode: 0, Success: true}, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &core.ExecResult{ExitCode: exitErr.ExitCode(), Success: false}, nil
	}
	return nil, err
}

func mergeEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}
