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

// Package checkout implements core.Checkout by shelling out to the git
// binary, the same way the CLI tooling examined for this project drives
// git: plain exec.Command invocations rather than an in-process git
// library.
package checkout

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/ando-ci/ando/core"
)

// TokenSource exchanges a GitHub App installation id for a short-lived
// access token used to build an authenticated clone URL.
type TokenSource interface {
	Token(ctx context.Context, installationID string) (string, error)
}

// CloneDepth bounds how much history git fetches; builds only ever need
// the tip commit's tree.
const CloneDepth = 50

// Git is a core.Checkout backed by the git CLI.
type Git struct {
	tokens  TokenSource
	rootDir string
	host    string
}

// New returns a Git checkout rooted at rootDir (a scratch directory each
// Prepare call gets its own subdirectory under), cloning from host (empty
// means github.com).
func New(tokens TokenSource, rootDir, host string) *Git {
	if host == "" {
		host = "github.com"
	}
	return &Git{tokens: tokens, rootDir: rootDir, host: host}
}

// Prepare implements core.Checkout.
func (g *Git) Prepare(ctx context.Context, project *core.Project, build *core.Build) (string, func(), error) {
	url, err := g.cloneURL(ctx, project)
	if err != nil {
		return "", nil, err
	}
	return g.prepareFrom(ctx, project, build, url)
}

// prepareFrom does the actual clone/checkout against an explicit remote
// URL (or local path), split out from Prepare so tests can point it at a
// throwaway local repo instead of exercising cloneURL's token exchange.
func (g *Git) prepareFrom(ctx context.Context, project *core.Project, build *core.Build, url string) (string, func(), error) {
	dir, err := os.MkdirTemp(g.rootDir, fmt.Sprintf("ando-%d-%d-", project.ID, build.ID))
	if err != nil {
		return "", nil, fmt.Errorf("checkout: mkdir scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	if err := g.run(ctx, "", "clone", "--depth", fmt.Sprint(CloneDepth), "--no-single-branch", url, dir); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("checkout: clone: %w", err)
	}
	if err := g.run(ctx, dir, "fetch", "--depth", fmt.Sprint(CloneDepth), "origin", build.CommitSHA); err == nil {
		if err := g.run(ctx, dir, "checkout", "FETCH_HEAD"); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("checkout: checkout fetched commit: %w", err)
		}
	} else if err := g.run(ctx, dir, "checkout", build.CommitSHA); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("checkout: checkout commit: %w", err)
	}

	return dir, cleanup, nil
}

func (g *Git) cloneURL(ctx context.Context, project *core.Project) (string, error) {
	if project.InstallationID == "" {
		return fmt.Sprintf("https://%s/%s.git", g.host, project.Slug()), nil
	}
	token, err := g.tokens.Token(ctx, project.InstallationID)
	if err != nil {
		return "", fmt.Errorf("checkout: cannot obtain installation token: %w", err)
	}
	return fmt.Sprintf("https://x-access-token:%s@%s/%s.git", token, g.host, project.Slug()), nil
}

func (g *Git) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %s", args[0], out)
	}
	return nil
}
