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

// Package orchestrator drives a queued build through its state machine
// (C4): container acquisition, step execution, log streaming, artifact
// extraction, and terminal bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ando-ci/ando/container"
	"github.com/ando-ci/ando/container/artifact"
	"github.com/ando-ci/ando/core"
	"github.com/ando-ci/ando/metric"
	"github.com/ando-ci/ando/vault"
)

// Config controls worker concurrency and defaults for an Orchestrator.
type Config struct {
	Workers        int
	QueueCapacity  int
	DefaultImage   string
	DefaultTimeout time.Duration
}

// DefaultConfig returns sane defaults for a single-node deployment.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueCapacity: 256, DefaultImage: "ando/build-base:latest", DefaultTimeout: 15 * time.Minute}
}

// Orchestrator is the C4 build state machine plus its worker pool.
type Orchestrator struct {
	cfg Config

	builds    core.BuildStore
	projects  core.ProjectStore
	secrets   core.SecretStore
	artifacts core.ArtifactStore
	settings  core.SettingsStore
	vault     *vault.Vault

	checkout     core.Checkout
	containers   core.ContainerManager
	stepExecutor core.StepExecutor
	scripts      core.StepSource
	logs         core.LogTransport
	artifactBackend artifact.Backend

	status core.StatusService
	hooks  core.WebhookSender

	metrics metric.Recorder

	queue         *Queue
	containerKeys *keyMutex

	mu              sync.Mutex
	cancelFuncs     map[int64]context.CancelFunc
	cancelRequested map[int64]bool
	active          int

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// Deps bundles the collaborators an Orchestrator is wired against; kept
// as a struct (rather than a long constructor arg list) since cmd/ando-server's
// wire injector assembles every one of these independently.
type Deps struct {
	Builds          core.BuildStore
	Projects        core.ProjectStore
	Secrets         core.SecretStore
	Artifacts       core.ArtifactStore
	Settings        core.SettingsStore
	Vault           *vault.Vault
	Checkout        core.Checkout
	Containers      core.ContainerManager
	StepExecutor    core.StepExecutor
	Scripts         core.StepSource
	Logs            core.LogTransport
	ArtifactBackend artifact.Backend
	Status          core.StatusService
	Hooks           core.WebhookSender
	Metrics         metric.Recorder
}

// New returns an Orchestrator and its core.Scheduler. The Scheduler is
// returned separately because C5 (trigger) depends only on that narrow
// interface, never on the Orchestrator itself.
func New(deps Deps, cfg Config) (*Orchestrator, core.Scheduler) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = metric.NewNoop()
	}
	queue := NewQueue(cfg.QueueCapacity)
	queue.SetMetrics(metrics)
	o := &Orchestrator{
		cfg:             cfg,
		builds:          deps.Builds,
		projects:        deps.Projects,
		secrets:         deps.Secrets,
		artifacts:       deps.Artifacts,
		settings:        deps.Settings,
		vault:           deps.Vault,
		checkout:        deps.Checkout,
		containers:      deps.Containers,
		stepExecutor:    deps.StepExecutor,
		scripts:         deps.Scripts,
		logs:            deps.Logs,
		artifactBackend: deps.ArtifactBackend,
		status:          deps.Status,
		hooks:           deps.Hooks,
		metrics:         metrics,
		queue:           queue,
		containerKeys:   newKeyMutex(),
		cancelFuncs:     make(map[int64]context.CancelFunc),
		cancelRequested: make(map[int64]bool),
	}
	return o, queue
}

// Start launches the worker pool; Start is idempotent.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.runCtx, o.runCancel = context.WithCancel(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.workerLoop()
	}
}

// Stop cancels every in-flight build's context and waits for workers to
// drain, up to 30 seconds.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	o.runCancel()
	done := make(chan struct{})
	go func() { o.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logrus.Warnln("orchestrator: stop timed out waiting for workers to drain")
	}
}

func (o *Orchestrator) workerLoop() {
	defer o.wg.Done()
	for {
		id, ok := o.queue.pop(o.runCtx)
		if !ok {
			return
		}
		if o.queue.consumeCancelled(id) {
			o.cancelQueuedBuild(o.runCtx, id)
			continue
		}
		o.trackActive(1)
		o.runBuild(o.runCtx, id)
		o.trackActive(-1)
	}
}

func (o *Orchestrator) trackActive(delta int) {
	o.mu.Lock()
	o.active += delta
	n := o.active
	o.mu.Unlock()
	o.metrics.ActiveWorkers(n)
}

// Cancel implements the Running→Cancelled half of cancellation; the
// Queued half is handled by Queue.Cancel (dequeuing).
func (o *Orchestrator) Cancel(buildID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancelFuncs[buildID]; ok {
		o.cancelRequested[buildID] = true
		cancel()
	}
}

func (o *Orchestrator) wasCancelRequested(buildID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelRequested[buildID]
}

func (o *Orchestrator) registerCancel(buildID int64, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancelFuncs[buildID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterCancel(buildID int64) {
	o.mu.Lock()
	delete(o.cancelFuncs, buildID)
	delete(o.cancelRequested, buildID)
	o.mu.Unlock()
}

// cancelQueuedBuild implements Queued→Cancelled for a build dequeued
// without ever running.
func (o *Orchestrator) cancelQueuedBuild(ctx context.Context, buildID int64) {
	build, err := o.builds.Find(ctx, buildID)
	if err != nil {
		logrus.WithError(err).WithField("build", buildID).Warnln("orchestrator: cannot load cancelled queued build")
		return
	}
	if build.Status != core.StatusQueued {
		return
	}
	now := time.Now().Unix()
	build.Status = core.StatusCancelled
	build.StartedAt = now
	build.FinishedAt = now
	if err := o.builds.Update(ctx, build); err != nil {
		logrus.WithError(err).WithField("build", buildID).Warnln("orchestrator: cannot persist cancelled queued build")
	}
	o.logs.Terminate(ctx, buildID, core.StatusCancelled)
}

// Retry implements spec.md's retry semantics: a fresh build row with the
// same commit/branch metadata, trigger=Manual, scheduled immediately.
func (o *Orchestrator) Retry(ctx context.Context, buildID int64) (*core.Build, error) {
	original, err := o.builds.Find(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if !original.Retryable() {
		return nil, fmt.Errorf("orchestrator: build %d is not in a retryable state (%s)", buildID, original.Status)
	}
	build := &core.Build{
		ProjectID:         original.ProjectID,
		CommitSHA:         original.CommitSHA,
		Branch:            original.Branch,
		CommitMessage:     original.CommitMessage,
		CommitAuthor:      original.CommitAuthor,
		PullRequestNumber: original.PullRequestNumber,
		Status:            core.StatusQueued,
		Trigger:           core.TriggerManual,
		QueuedAt:          time.Now().Unix(),
	}
	if err := o.builds.Create(ctx, build); err != nil {
		return nil, err
	}
	jobID, err := o.queue.Schedule(ctx, build)
	if err != nil {
		return build, err
	}
	build.JobID = jobID
	if err := o.builds.Update(ctx, build); err != nil {
		logrus.WithError(err).WithField("build", build.ID).Warnln("orchestrator: cannot persist retry job id")
	}
	return build, nil
}

// runBuild drives one build through steps 1-8 of spec.md §4.2's run loop.
func (o *Orchestrator) runBuild(parent context.Context, buildID int64) {
	logger := logrus.WithField("build", buildID)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("orchestrator: panic running build: %v", r)
			o.failBuild(parent, buildID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	build, err := o.builds.Find(parent, buildID)
	if err != nil {
		logger.WithError(err).Errorln("orchestrator: cannot load build")
		return
	}
	project, err := o.projects.Find(parent, build.ProjectID)
	if err != nil {
		logger.WithError(err).Errorln("orchestrator: cannot load project")
		o.failBuild(parent, buildID, "project not found")
		return
	}
	logger = logger.WithField("project", project.Slug())

	timeout := o.cfg.DefaultTimeout
	if project.TimeoutMinutes > 0 {
		timeout = time.Duration(project.TimeoutMinutes) * time.Minute
	}
	buildCtx, cancel := context.WithTimeout(parent, timeout)
	o.registerCancel(buildID, cancel)
	defer func() {
		cancel()
		o.unregisterCancel(buildID)
	}()

	// 1. reload secrets, decrypt into an in-memory environment map.
	env, err := o.buildEnv(buildCtx, project)
	if err != nil {
		logger.WithError(err).Errorln("orchestrator: cannot load secrets")
		o.failBuild(buildCtx, buildID, "cannot decrypt project secrets")
		return
	}

	// 2. Queued -> Running.
	build.Status = core.StatusRunning
	build.StartedAt = time.Now().Unix()
	if err := o.builds.Update(buildCtx, build); err != nil {
		logger.WithError(err).Warnln("orchestrator: cannot persist running transition")
	}
	o.logs.Append(buildCtx, buildID, core.LogInfo, "", "build started")
	o.postStatus(buildCtx, project, build)
	o.metrics.BuildStarted(project.Slug())

	status, errMessage := o.execute(buildCtx, logger, project, build, env, timeout)

	build.Status = status
	build.FinishedAt = time.Now().Unix()
	build.ErrorMessage = errMessage
	if err := o.builds.Update(context.Background(), build); err != nil {
		logger.WithError(err).Errorln("orchestrator: cannot persist final build state")
	}
	o.metrics.BuildFinished(project.Slug(), status, float64(build.FinishedAt-build.StartedAt))
	o.logs.Append(context.Background(), buildID, core.LogInfo, "", "workflow completed")
	o.logs.Terminate(context.Background(), buildID, status)
	o.postStatus(context.Background(), project, build)
	logger.WithField("status", status).Infoln("orchestrator: build finished")
}

// execute runs steps 3-6 and returns the terminal status plus an
// error_message, never panicking: all failures are folded into the
// returned status so runBuild always has something to persist.
func (o *Orchestrator) execute(ctx context.Context, logger *logrus.Entry, project *core.Project, build *core.Build, env map[string]string, timeout time.Duration) (core.BuildStatus, string) {
	// 3. checkout + acquire container + stage + clean.
	hostRoot, cleanupCheckout, err := o.checkout.Prepare(ctx, project, build)
	if err != nil {
		return o.statusFor(ctx, build.ID, timeout, err, errors.Wrap(err, "checkout failed").Error())
	}
	defer cleanupCheckout()

	scriptPath := filepath.Join(hostRoot, core.DefaultScriptName)

	scriptHash, err := o.scripts.Hash(ctx, scriptPath)
	if err != nil {
		return o.statusFor(ctx, build.ID, timeout, err, errors.Wrap(err, "cannot hash build script").Error())
	}

	image := project.Image
	if image == "" {
		image = o.cfg.DefaultImage
	}
	cfg := core.ContainerConfig{ProjectSlug: project.Slug(), ScriptHash: scriptHash, Image: image}
	containerName := container.Name(cfg)
	unlock := o.containerKeys.lock(containerName)
	defer unlock()

	handle, err := o.containers.EnsureContainer(ctx, cfg)
	if err != nil {
		return o.statusFor(ctx, build.ID, timeout, err, errors.Wrap(err, "cannot acquire build container").Error())
	}
	if err := o.containers.StageProject(ctx, handle, hostRoot); err != nil {
		return o.statusFor(ctx, build.ID, timeout, err, errors.Wrap(err, "cannot stage project files").Error())
	}
	if err := o.containers.CleanArtifacts(ctx, handle); err != nil {
		return o.statusFor(ctx, build.ID, timeout, err, errors.Wrap(err, "cannot clean artifacts directory").Error())
	}

	// 4. compile steps.
	steps, err := o.scripts.Steps(ctx, scriptPath)
	if err != nil {
		return o.statusFor(ctx, build.ID, timeout, err, errors.Wrap(err, "cannot compile build script").Error())
	}
	build.TotalSteps = len(steps)
	_ = o.builds.Update(ctx, build)

	// 5. run each step, fail-fast.
	var failMessage string
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return o.statusFor(ctx, build.ID, timeout, err, "")
		}

		o.logs.Append(ctx, build.ID, core.LogStepStarted, step.Name, "")
		req := step.ToExecRequest(handle, env)

		lines := make(chan core.ExecLine, 256)
		var drain sync.WaitGroup
		drain.Add(1)
		go func() {
			defer drain.Done()
			for line := range lines {
				o.logs.Append(ctx, build.ID, core.LogOutput, step.Name, line.Text)
			}
		}()

		result, err := o.stepExecutor.Run(ctx, req, lines)
		drain.Wait()

		if err != nil {
			o.logs.Append(ctx, build.ID, core.LogStepFailed, step.Name, err.Error())
			build.FailedSteps++
			_ = o.builds.Update(ctx, build)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return o.statusFor(ctx, build.ID, timeout, ctxErr, "")
			}
			failMessage = fmt.Sprintf("step %q failed: %s", step.Name, err.Error())
			break
		}
		if !result.Success {
			msg := fmt.Sprintf("step %q exited with code %d", step.Name, result.ExitCode)
			o.logs.Append(ctx, build.ID, core.LogStepFailed, step.Name, msg)
			build.FailedSteps++
			_ = o.builds.Update(ctx, build)
			failMessage = msg
			break
		}

		o.logs.Append(ctx, build.ID, core.LogStepCompleted, step.Name, "")
		build.CompletedSteps++
		_ = o.builds.Update(ctx, build)
	}

	if failMessage != "" {
		return core.StatusFailed, failMessage
	}

	// 6. extract artifacts on success.
	if err := o.extractArtifacts(ctx, project, build, handle); err != nil {
		logger.WithError(err).Warnln("orchestrator: artifact extraction had errors")
		o.logs.Append(ctx, build.ID, core.LogWarning, "", "artifact extraction: "+err.Error())
	}

	return core.StatusSuccess, ""
}

// statusFor maps a context error (or ctx-triggered failure) observed
// during execute into the right terminal status.
func (o *Orchestrator) statusFor(ctx context.Context, buildID int64, timeout time.Duration, err error, fallbackMessage string) (core.BuildStatus, string) {
	if err == context.DeadlineExceeded {
		return core.StatusTimedOut, fmt.Sprintf("timeout after %s", timeout)
	}
	if o.wasCancelRequested(buildID) || err == context.Canceled {
		return core.StatusCancelled, "cancelled"
	}
	if fallbackMessage == "" && err != nil {
		fallbackMessage = err.Error()
	}
	return core.StatusFailed, fallbackMessage
}

// buildEnv reloads project secrets (snapshot-isolated per spec §5: a
// build uses the values read at the start of its run) and decrypts them
// into a plain environment map merged with build metadata.
func (o *Orchestrator) buildEnv(ctx context.Context, project *core.Project) (map[string]string, error) {
	secrets, err := o.secrets.List(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(secrets)+4)
	for _, s := range secrets {
		plaintext, err := o.vault.Decrypt(s.EncryptedValue)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: cannot decrypt secret %q: %w", s.Name, err)
		}
		env[s.Name] = string(plaintext)
	}
	env["ANDO_PROJECT"] = project.Slug()
	return env, nil
}

// defaultArtifactRetention applies only when the system settings row is
// unavailable or has no retention configured; the system settings row
// (core.SystemSettings.ArtifactRetentionDays) is the single source of
// truth otherwise. There is no per-project override field on core.Project.
const defaultArtifactRetention = 7 * 24 * time.Hour

func (o *Orchestrator) artifactRetention(ctx context.Context) time.Duration {
	if o.settings == nil {
		return defaultArtifactRetention
	}
	settings, err := o.settings.Get(ctx)
	if err != nil || settings == nil || settings.ArtifactRetentionDays <= 0 {
		return defaultArtifactRetention
	}
	return time.Duration(settings.ArtifactRetentionDays) * 24 * time.Hour
}

// extractArtifacts copies everything left under the container's
// workspace/artifacts directory to a scratch host directory, then walks
// it into the artifact backend + S1 metadata, aggregating per-file
// failures with go-multierror rather than abandoning the rest on the
// first error.
func (o *Orchestrator) extractArtifacts(ctx context.Context, project *core.Project, build *core.Build, handle *core.ContainerHandle) error {
	hostDir, err := newScratchDir("ando-artifacts-")
	if err != nil {
		return err
	}
	defer removeScratchDir(hostDir)

	containerPath := container.DefaultWorkspace + "/artifacts"
	if err := o.containers.CopyOut(ctx, handle, containerPath, hostDir); err != nil {
		return err
	}

	files, err := listRegularFiles(hostDir)
	if err != nil {
		return err
	}

	var result *multierror.Error
	retention := o.artifactRetention(ctx)
	now := time.Now()
	for _, f := range files {
		if err := o.storeOneArtifact(ctx, project, build, hostDir, f, now, retention); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", f, err))
		}
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) storeOneArtifact(ctx context.Context, project *core.Project, build *core.Build, hostDir, relPath string, now time.Time, retention time.Duration) error {
	f, err := openScratchFile(hostDir, relPath)
	if err != nil {
		return err
	}
	defer f.Close()

	size, err := o.artifactBackend.Put(ctx, project.ID, build.ID, relPath, f)
	if err != nil {
		return err
	}

	row := &core.BuildArtifact{
		ProjectID: project.ID,
		BuildID:   build.ID,
		Name:      relPath,
		SizeBytes: size,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(retention).Unix(),
	}
	return o.artifacts.Create(ctx, row)
}

func (o *Orchestrator) postStatus(ctx context.Context, project *core.Project, build *core.Build) {
	if o.status == nil {
		return
	}
	if err := o.status.Send(ctx, project.InstallationID, project.Slug(), build); err != nil {
		logrus.WithError(err).WithField("build", build.ID).Warnln("orchestrator: cannot post commit status")
	}
	if o.hooks == nil {
		return
	}
	if endpoints := project.NotifyEndpointList(); len(endpoints) != 0 {
		if err := o.hooks.Send(ctx, endpoints, "build."+string(build.Status), build); err != nil {
			logrus.WithError(err).WithField("build", build.ID).Warnln("orchestrator: cannot send outbound webhook")
		}
	}
}

func (o *Orchestrator) failBuild(ctx context.Context, buildID int64, message string) {
	build, err := o.builds.Find(ctx, buildID)
	if err != nil {
		return
	}
	build.Status = core.StatusFailed
	build.ErrorMessage = message
	if build.StartedAt == 0 {
		build.StartedAt = time.Now().Unix()
	}
	build.FinishedAt = time.Now().Unix()
	_ = o.builds.Update(ctx, build)
	o.logs.Append(ctx, buildID, core.LogError, "", message)
	o.logs.Terminate(ctx, buildID, core.StatusFailed)
}
