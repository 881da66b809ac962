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

package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ando-ci/ando/core"
	"github.com/ando-ci/ando/vault"
)

type fakeBuildStore struct {
	mu     sync.Mutex
	nextID int64
	builds map[int64]*core.Build
}

func newFakeBuildStore() *fakeBuildStore {
	return &fakeBuildStore{builds: make(map[int64]*core.Build)}
}

func (f *fakeBuildStore) Find(ctx context.Context, id int64) (*core.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.builds[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBuildStore) FindByJobID(ctx context.Context, jobID string) (*core.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.builds {
		if b.JobID == jobID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeBuildStore) List(ctx context.Context, projectID int64, limit, offset int) ([]*core.Build, error) {
	return nil, nil
}

func (f *fakeBuildStore) Create(ctx context.Context, build *core.Build) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	build.ID = f.nextID
	cp := *build
	f.builds[build.ID] = &cp
	return nil
}

func (f *fakeBuildStore) Update(ctx context.Context, build *core.Build) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *build
	f.builds[build.ID] = &cp
	return nil
}

func (f *fakeBuildStore) Count(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeBuildStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.builds, id)
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errNotFound = errString("not found")

type fakeProjectStore struct {
	project *core.Project
}

func (f *fakeProjectStore) Find(ctx context.Context, id int64) (*core.Project, error) {
	cp := *f.project
	return &cp, nil
}
func (f *fakeProjectStore) FindByExternalID(ctx context.Context, externalID string) (*core.Project, error) {
	return f.Find(ctx, 0)
}
func (f *fakeProjectStore) List(ctx context.Context) ([]*core.Project, error) { return nil, nil }
func (f *fakeProjectStore) Create(ctx context.Context, project *core.Project) error { return nil }
func (f *fakeProjectStore) Update(ctx context.Context, project *core.Project) error { return nil }
func (f *fakeProjectStore) Delete(ctx context.Context, id int64) error              { return nil }

type fakeSecretStore struct{ secrets []*core.ProjectSecret }

func (f *fakeSecretStore) List(ctx context.Context, projectID int64) ([]*core.ProjectSecret, error) {
	return f.secrets, nil
}
func (f *fakeSecretStore) Find(ctx context.Context, projectID int64, name string) (*core.ProjectSecret, error) {
	for _, s := range f.secrets {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, errNotFound
}
func (f *fakeSecretStore) Upsert(ctx context.Context, secret *core.ProjectSecret) error { return nil }
func (f *fakeSecretStore) Delete(ctx context.Context, projectID int64, name string) error {
	return nil
}

type fakeArtifactStore struct {
	mu      sync.Mutex
	created []*core.BuildArtifact
}

func (f *fakeArtifactStore) Create(ctx context.Context, artifact *core.BuildArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, artifact)
	return nil
}
func (f *fakeArtifactStore) ListByBuild(ctx context.Context, buildID int64) ([]*core.BuildArtifact, error) {
	return nil, nil
}
func (f *fakeArtifactStore) ListExpired(ctx context.Context, now int64) ([]*core.BuildArtifact, error) {
	return nil, nil
}
func (f *fakeArtifactStore) Delete(ctx context.Context, id int64) error { return nil }

type fakeCheckout struct {
	hostRoot string
	err      error
}

func (f *fakeCheckout) Prepare(ctx context.Context, project *core.Project, build *core.Build) (string, func(), error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.hostRoot, func() {}, nil
}

type fakeContainers struct {
	handle *core.ContainerHandle
}

func (f *fakeContainers) EnsureContainer(ctx context.Context, cfg core.ContainerConfig) (*core.ContainerHandle, error) {
	return f.handle, nil
}
func (f *fakeContainers) StageProject(ctx context.Context, handle *core.ContainerHandle, hostRoot string) error {
	return nil
}
func (f *fakeContainers) CleanArtifacts(ctx context.Context, handle *core.ContainerHandle) error {
	return nil
}
func (f *fakeContainers) CopyOut(ctx context.Context, handle *core.ContainerHandle, containerPath, hostPath string) error {
	return nil
}
func (f *fakeContainers) Remove(ctx context.Context, name string) error { return nil }

type fakeScripts struct {
	steps []core.Step
	err   error
}

func (f *fakeScripts) Steps(ctx context.Context, scriptPath string) ([]core.Step, error) {
	return f.steps, f.err
}
func (f *fakeScripts) RequiredSecrets(ctx context.Context, scriptPath string) ([]string, error) {
	return nil, nil
}
func (f *fakeScripts) Hash(ctx context.Context, scriptPath string) (string, error) {
	return "deadbeef", nil
}

// fakeExecutor runs steps by name: returning whatever outcome was
// registered for that step name, defaulting to a clean success.
type fakeExecutor struct {
	outcomes map[string]*core.ExecResult
	errs     map[string]error
	delay    time.Duration
}

func (f *fakeExecutor) Run(ctx context.Context, req core.ExecRequest, lines chan<- core.ExecLine) (*core.ExecResult, error) {
	defer close(lines)
	lines <- core.ExecLine{Text: "running " + req.Command}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errs[req.Command]; ok {
		return nil, err
	}
	if res, ok := f.outcomes[req.Command]; ok {
		return res, nil
	}
	return &core.ExecResult{ExitCode: 0, Success: true}, nil
}

func (f *fakeExecutor) IsAvailable(ctx context.Context, command string) bool { return true }

type fakeLogs struct {
	mu      sync.Mutex
	entries []*core.BuildLogEntry
}

func (f *fakeLogs) Append(ctx context.Context, buildID int64, typ core.BuildLogType, stepName, message string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := uint32(len(f.entries)) + 1
	f.entries = append(f.entries, &core.BuildLogEntry{BuildID: buildID, Sequence: seq, Type: typ, StepName: stepName, Message: message})
	return seq, nil
}
func (f *fakeLogs) GetSince(ctx context.Context, buildID int64, after uint32, limit int) ([]*core.BuildLogEntry, bool, error) {
	return nil, false, nil
}
func (f *fakeLogs) Subscribe(ctx context.Context, buildID int64, after uint32, ch chan<- core.LogEvent) {
	close(ch)
}
func (f *fakeLogs) Terminate(ctx context.Context, buildID int64, status core.BuildStatus) {}

type fakeArtifactBackend struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeArtifactBackend() *fakeArtifactBackend {
	return &fakeArtifactBackend{files: make(map[string][]byte)}
}

func (f *fakeArtifactBackend) Put(ctx context.Context, projectID, buildID int64, name string, content io.Reader) (int64, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = data
	return int64(len(data)), nil
}
func (f *fakeArtifactBackend) Open(ctx context.Context, projectID, buildID int64, name string) (io.ReadCloser, error) {
	return nil, errNotFound
}
func (f *fakeArtifactBackend) Delete(ctx context.Context, projectID, buildID int64, name string) error {
	return nil
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE=")
	if err != nil {
		t.Fatalf("test vault: %v", err)
	}
	return v
}

func testOrchestrator(t *testing.T, project *core.Project, steps []core.Step, exec *fakeExecutor, hostRoot string) (*Orchestrator, *fakeBuildStore, *fakeArtifactStore) {
	t.Helper()
	builds := newFakeBuildStore()
	artifacts := &fakeArtifactStore{}
	deps := Deps{
		Builds:          builds,
		Projects:        &fakeProjectStore{project: project},
		Secrets:         &fakeSecretStore{},
		Artifacts:       artifacts,
		Vault:           testVault(t),
		Checkout:        &fakeCheckout{hostRoot: hostRoot},
		Containers:      &fakeContainers{handle: &core.ContainerHandle{Name: "ando-test", ID: "abc"}},
		StepExecutor:    exec,
		Scripts:         &fakeScripts{steps: steps},
		Logs:            &fakeLogs{},
		ArtifactBackend: newFakeArtifactBackend(),
	}
	o, _ := New(deps, Config{Workers: 1, QueueCapacity: 4, DefaultTimeout: time.Minute})
	return o, builds, artifacts
}

func TestRunBuildSuccessPath(t *testing.T) {
	dir := t.TempDir()
	project := &core.Project{ID: 1, Owner: "acme", Name: "widgets", TimeoutMinutes: 1}
	steps := []core.Step{{Name: "build", Command: "make"}, {Name: "test", Command: "make-test"}}
	exec := &fakeExecutor{outcomes: map[string]*core.ExecResult{}}
	o, builds, _ := testOrchestrator(t, project, steps, exec, dir)

	build := &core.Build{}
	if err := builds.Create(context.Background(), build); err != nil {
		t.Fatal(err)
	}

	o.runBuild(context.Background(), build.ID)

	got, err := builds.Find(context.Background(), build.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.CompletedSteps != 2 || got.TotalSteps != 2 {
		t.Fatalf("unexpected step counters: %+v", got)
	}
}

func TestRunBuildFailFastOnStepFailure(t *testing.T) {
	dir := t.TempDir()
	project := &core.Project{ID: 1, Owner: "acme", Name: "widgets", TimeoutMinutes: 1}
	steps := []core.Step{{Name: "build", Command: "make"}, {Name: "never-runs", Command: "make-test"}}
	exec := &fakeExecutor{outcomes: map[string]*core.ExecResult{"make": {ExitCode: 1, Success: false}}}
	o, builds, _ := testOrchestrator(t, project, steps, exec, dir)

	build := &core.Build{}
	builds.Create(context.Background(), build)

	o.runBuild(context.Background(), build.ID)

	got, _ := builds.Find(context.Background(), build.ID)
	if got.Status != core.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.CompletedSteps != 0 || got.FailedSteps != 1 {
		t.Fatalf("unexpected step counters: %+v", got)
	}
}

func TestRunBuildTimesOut(t *testing.T) {
	dir := t.TempDir()
	project := &core.Project{ID: 1, Owner: "acme", Name: "widgets", TimeoutMinutes: 0}
	steps := []core.Step{{Name: "slow", Command: "sleep"}}
	exec := &fakeExecutor{delay: 200 * time.Millisecond}
	o, builds, _ := testOrchestrator(t, project, steps, exec, dir)
	o.cfg.DefaultTimeout = 20 * time.Millisecond

	build := &core.Build{}
	builds.Create(context.Background(), build)

	o.runBuild(context.Background(), build.ID)

	got, _ := builds.Find(context.Background(), build.ID)
	if got.Status != core.StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", got.Status)
	}
}

func TestCancelRunningBuildMarksCancelled(t *testing.T) {
	dir := t.TempDir()
	project := &core.Project{ID: 1, Owner: "acme", Name: "widgets", TimeoutMinutes: 1}
	steps := []core.Step{{Name: "slow", Command: "sleep"}}
	exec := &fakeExecutor{delay: 500 * time.Millisecond}
	o, builds, _ := testOrchestrator(t, project, steps, exec, dir)

	build := &core.Build{}
	builds.Create(context.Background(), build)

	done := make(chan struct{})
	go func() {
		o.runBuild(context.Background(), build.ID)
		close(done)
	}()

	// Give runBuild a moment to register its cancel func before cancelling.
	deadline := time.Now().Add(time.Second)
	for {
		if o.wasRegistered(build.ID) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("build never registered a cancel func")
		}
		time.Sleep(time.Millisecond)
	}
	o.Cancel(build.ID)
	<-done

	got, _ := builds.Find(context.Background(), build.ID)
	if got.Status != core.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func (o *Orchestrator) wasRegistered(buildID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelFuncs[buildID]
	return ok
}

func TestRetryOnlyFromTerminalStates(t *testing.T) {
	dir := t.TempDir()
	project := &core.Project{ID: 1, Owner: "acme", Name: "widgets"}
	o, builds, _ := testOrchestrator(t, project, nil, &fakeExecutor{}, dir)

	running := &core.Build{Status: core.StatusRunning}
	builds.Create(context.Background(), running)
	if _, err := o.Retry(context.Background(), running.ID); err == nil {
		t.Fatal("expected retry of a running build to be rejected")
	}

	failed := &core.Build{Status: core.StatusFailed, CommitSHA: "abc123", Branch: "main"}
	builds.Create(context.Background(), failed)
	retried, err := o.Retry(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Trigger != core.TriggerManual || retried.Status != core.StatusQueued {
		t.Fatalf("unexpected retried build: %+v", retried)
	}
	if retried.CommitSHA != failed.CommitSHA {
		t.Fatalf("retry should carry over commit metadata")
	}
}

func TestCancelQueuedBuildSkipsExecution(t *testing.T) {
	dir := t.TempDir()
	project := &core.Project{ID: 1, Owner: "acme", Name: "widgets"}
	o, builds, _ := testOrchestrator(t, project, nil, &fakeExecutor{}, dir)

	build := &core.Build{Status: core.StatusQueued}
	builds.Create(context.Background(), build)

	o.cancelQueuedBuild(context.Background(), build.ID)

	got, _ := builds.Find(context.Background(), build.ID)
	if got.Status != core.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}
