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

package main

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/ando-ci/ando/container"
	"github.com/ando-ci/ando/core"
	"github.com/ando-ci/ando/executor"
	"github.com/ando-ci/ando/script"
)

// runError pairs a failure with the §6 exit code it must surface.
type runError struct {
	code int
	err  error
}

func (r *runError) Error() string { return r.err.Error() }
func (r *runError) Unwrap() error { return r.err }

func exitCodeFor(err error) int {
	if re, ok := err.(*runError); ok {
		return re.code
	}
	fmt.Fprintln(os.Stderr, "ando:", err)
	return exitInternalError
}

var (
	flagHost  bool
	flagImage string
)

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Compile and run a build script",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&flagHost, "host", false, "run steps directly on the host instead of a container")
	runCmd.Flags().StringVar(&flagImage, "image", "ando/build-base:latest", "image to run steps in when not --host")
}

func runRun(cmd *cobra.Command, args []string) error {
	scriptPath := core.DefaultScriptName
	if len(args) == 1 {
		scriptPath = args[0]
	}

	if _, err := os.Stat(scriptPath); err != nil {
		return &runError{code: exitScriptNotFound, err: fmt.Errorf("script not found: %s", scriptPath)}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	source := script.New()
	minVersion, err := source.MinVersion(ctx, scriptPath)
	if err != nil {
		return &runError{code: exitValidationFailed, err: err}
	}
	if err := requireMinVersion(minVersion); err != nil {
		return err
	}

	steps, err := source.Steps(ctx, scriptPath)
	if err != nil {
		return &runError{code: exitValidationFailed, err: err}
	}

	logPath := buildLogPath(scriptPath)
	logFile, err := os.Create(logPath)
	if err != nil {
		return &runError{code: exitInternalError, err: fmt.Errorf("cannot create %s: %w", logPath, err)}
	}
	defer logFile.Close()
	logWriter := bufio.NewWriter(logFile)
	defer logWriter.Flush()

	stepExecutor, handle, cleanup, err := prepareExecutor(ctx, scriptPath, source)
	if err != nil {
		return err
	}
	defer cleanup()

	baseEnv := map[string]string{}
	for _, step := range steps {
		fmt.Fprintf(os.Stdout, "+ %s\n", step.Name)
		fmt.Fprintf(logWriter, "+ %s\n", step.Name)

		req := step.ToExecRequest(handle, baseEnv)
		lines := make(chan core.ExecLine, 64)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for line := range lines {
				writeLine(os.Stdout, logWriter, line)
			}
		}()

		result, err := stepExecutor.Run(ctx, req, lines)
		<-done
		logWriter.Flush()
		if err != nil {
			return &runError{code: exitInternalError, err: fmt.Errorf("step %q: %w", step.Name, err)}
		}
		if !result.Success {
			fmt.Fprintf(os.Stderr, "step %q failed with exit code %d\n", step.Name, result.ExitCode)
			return &runError{code: exitBuildFailed, err: fmt.Errorf("step %q exited %d", step.Name, result.ExitCode)}
		}
	}

	return nil
}

func writeLine(stdout io.Writer, log io.Writer, line core.ExecLine) {
	prefix := ""
	if line.Stderr {
		prefix = "! "
	}
	fmt.Fprintf(stdout, "%s%s\n", prefix, line.Text)
	fmt.Fprintf(log, "%s%s\n", prefix, line.Text)
}

// buildLogPath implements "build.<ext>.log written alongside the build
// script" (spec.md §6): ando.yml -> build.yml.log in the same directory.
func buildLogPath(scriptPath string) string {
	dir := filepath.Dir(scriptPath)
	ext := strings.TrimPrefix(filepath.Ext(scriptPath), ".")
	if ext == "" {
		ext = "log"
	}
	return filepath.Join(dir, fmt.Sprintf("build.%s.log", ext))
}

// prepareExecutor picks the host or a fresh warm container as the step
// executor. Host mode needs no handle. Container mode probes the daemon
// first so an unreachable Docker surfaces exit code 3, not a generic 5.
func prepareExecutor(ctx context.Context, scriptPath string, source *script.YAMLSource) (core.StepExecutor, *core.ContainerHandle, func(), error) {
	noop := func() {}
	if flagHost {
		return executor.NewHost(), nil, noop, nil
	}

	docker, err := container.NewDockerClient("", "")
	if err != nil {
		return nil, nil, noop, &runError{code: exitRuntimeUnavailable, err: fmt.Errorf("docker client: %w", err)}
	}
	if _, err := docker.Ping(ctx); err != nil {
		return nil, nil, noop, &runError{code: exitRuntimeUnavailable, err: fmt.Errorf("docker daemon unreachable: %w", err)}
	}

	manager := container.NewManager(docker, localRegistryDir())
	hash, err := source.Hash(ctx, scriptPath)
	if err != nil {
		return nil, nil, noop, &runError{code: exitValidationFailed, err: err}
	}

	slug := localSlug(scriptPath)
	handle, err := manager.EnsureContainer(ctx, core.ContainerConfig{ProjectSlug: slug, ScriptHash: hash, Image: flagImage})
	if err != nil {
		return nil, nil, noop, &runError{code: exitRuntimeUnavailable, err: fmt.Errorf("ensure container: %w", err)}
	}

	absDir, err := filepath.Abs(filepath.Dir(scriptPath))
	if err != nil {
		return nil, nil, noop, &runError{code: exitInternalError, err: err}
	}
	if err := manager.StageProject(ctx, handle, absDir); err != nil {
		return nil, nil, noop, &runError{code: exitRuntimeUnavailable, err: fmt.Errorf("stage project: %w", err)}
	}

	cleanup := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.CleanArtifacts(cleanupCtx, handle)
	}
	return executor.NewContainer(manager), handle, cleanup, nil
}

// localSlug derives a stable per-directory identifier for the warm
// container name, since a local invocation has no core.Project row.
func localSlug(scriptPath string) string {
	abs, err := filepath.Abs(filepath.Dir(scriptPath))
	if err != nil {
		abs = scriptPath
	}
	sum := md5.Sum([]byte(abs))
	return "local-" + hex.EncodeToString(sum[:])[:8]
}

func localRegistryDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".ando"
	}
	return filepath.Join(home, ".ando", "containers")
}
