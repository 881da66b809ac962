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

import (
	"context"
	"time"
)

// DefaultCommandTimeout is used by a Step Executor when no per-command
// timeout is specified.
const DefaultCommandTimeout = 5 * time.Minute

// Unlimited disables the per-command timeout.
const Unlimited = time.Duration(-1)

// ExecRequest is one command to run via a Step Executor.
type ExecRequest struct {
	Command     string
	Args        []string
	Dir         string
	Env         map[string]string
	Timeout     time.Duration
	Interactive bool
	// Handle is set when the command should run inside a warm container;
	// nil means run on the host.
	Handle *ContainerHandle
}

// ExecLine is one line of streamed stdout or stderr output.
type ExecLine struct {
	Text   string
	Stderr bool
}

// ExecResult is the outcome of a completed command.
type ExecResult struct {
	ExitCode int
	Success  bool
}

// StepExecutor runs a single command and streams its output line by line
// (C2). Stderr is treated as ordinary output, matching the teacher's
// "many tools use it for progress" assumption.
type StepExecutor interface {
	// Run executes req, sending each output line to lines before
	// returning the final result. lines is closed by Run before it
	// returns.
	Run(ctx context.Context, req ExecRequest, lines chan<- ExecLine) (*ExecResult, error)
	// IsAvailable probes whether command can be located/executed by this
	// executor.
	IsAvailable(ctx context.Context, command string) bool
}

// Step is a single named command produced by a build-script step source,
// consumed opaquely by the orchestrator other than Name and the exec
// request it produces.
type Step struct {
	Name       string
	Command    string
	Args       []string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// ToExecRequest builds the ExecRequest for this step against handle.
func (s Step) ToExecRequest(handle *ContainerHandle, baseEnv map[string]string) ExecRequest {
	env := make(map[string]string, len(baseEnv)+len(s.Env))
	for k, v := range baseEnv {
		env[k] = v
	}
	for k, v := range s.Env {
		env[k] = v
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	return ExecRequest{
		Command: s.Command,
		Args:    s.Args,
		Dir:     s.WorkingDir,
		Env:     env,
		Timeout: timeout,
		Handle:  handle,
	}
}

// StepSource compiles a build script into an ordered list of Steps. The
// scripting language itself is an external collaborator; the orchestrator
// depends only on this interface (see design note "pluggable step
// source").
type StepSource interface {
	Steps(ctx context.Context, scriptPath string) ([]Step, error)
	// RequiredSecrets returns the secret names the script declares it
	// needs, used by manual-trigger re-detection.
	RequiredSecrets(ctx context.Context, scriptPath string) ([]string, error)
	// Hash returns a deterministic digest of the script contents, used
	// to name the warm container.
	Hash(ctx context.Context, scriptPath string) (string, error)
}
