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

package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validScript = `
secrets:
  - NPM_TOKEN
steps:
  - name: install
    command: npm
    args: ["install"]
    working_dir: web
  - name: test
    command: npm
    args: ["test"]
    timeout: 2m
    env:
      NODE_ENV: test
`

func writeScript(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ando.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestStepsParsesOrderedSteps(t *testing.T) {
	path := writeScript(t, validScript)
	steps, err := New().Steps(context.Background(), path)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Name != "install" || steps[0].WorkingDir != "web" {
		t.Errorf("unexpected first step: %+v", steps[0])
	}
	if steps[1].Timeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %s", steps[1].Timeout)
	}
	if steps[1].Env["NODE_ENV"] != "test" {
		t.Errorf("expected NODE_ENV=test, got %+v", steps[1].Env)
	}
}

func TestStepsRejectsMissingCommand(t *testing.T) {
	path := writeScript(t, "steps:\n  - name: broken\n")
	if _, err := New().Steps(context.Background(), path); err == nil {
		t.Fatal("expected an error for a step with no command")
	}
}

func TestStepsRejectsEmptyStepList(t *testing.T) {
	path := writeScript(t, "secrets: []\n")
	if _, err := New().Steps(context.Background(), path); err == nil {
		t.Fatal("expected an error for a script with no steps")
	}
}

func TestRequiredSecretsReflectsCurrentFile(t *testing.T) {
	path := writeScript(t, validScript)
	src := New()

	secrets, err := src.RequiredSecrets(context.Background(), path)
	if err != nil {
		t.Fatalf("RequiredSecrets: %v", err)
	}
	if len(secrets) != 1 || secrets[0] != "NPM_TOKEN" {
		t.Fatalf("expected [NPM_TOKEN], got %v", secrets)
	}

	// re-detection is live: rewriting the file changes the answer.
	if err := os.WriteFile(path, []byte("secrets: [NPM_TOKEN, DEPLOY_KEY]\nsteps:\n  - name: x\n    command: echo\n"), 0o644); err != nil {
		t.Fatalf("rewrite script: %v", err)
	}
	secrets, err = src.RequiredSecrets(context.Background(), path)
	if err != nil {
		t.Fatalf("RequiredSecrets after rewrite: %v", err)
	}
	if len(secrets) != 2 {
		t.Fatalf("expected 2 secrets after rewrite, got %v", secrets)
	}
}

func TestRequiredSecretsRejectsBadName(t *testing.T) {
	path := writeScript(t, "secrets: [lower_case]\nsteps:\n  - name: x\n    command: echo\n")
	if _, err := New().RequiredSecrets(context.Background(), path); err == nil {
		t.Fatal("expected an error for a badly named secret")
	}
}

func TestMinVersionRoundTrips(t *testing.T) {
	path := writeScript(t, "min_version: 1.2.0\nsteps:\n  - name: x\n    command: echo\n")
	v, err := New().MinVersion(context.Background(), path)
	if err != nil {
		t.Fatalf("MinVersion: %v", err)
	}
	if v != "1.2.0" {
		t.Fatalf("expected 1.2.0, got %q", v)
	}
}

func TestMinVersionEmptyWhenUndeclared(t *testing.T) {
	path := writeScript(t, validScript)
	v, err := New().MinVersion(context.Background(), path)
	if err != nil {
		t.Fatalf("MinVersion: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty min_version, got %q", v)
	}
}

func TestHashIsDeterministicAndContentAddressed(t *testing.T) {
	pathA := writeScript(t, validScript)
	pathB := writeScript(t, validScript)
	pathC := writeScript(t, validScript+"\n# trailing comment\n")

	src := New()
	hashA, err := src.Hash(context.Background(), pathA)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	hashB, _ := src.Hash(context.Background(), pathB)
	hashC, _ := src.Hash(context.Background(), pathC)

	if hashA != hashB {
		t.Errorf("expected identical content to hash identically: %s != %s", hashA, hashB)
	}
	if hashA == hashC {
		t.Errorf("expected different content to hash differently")
	}
}
