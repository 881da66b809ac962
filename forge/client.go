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

// Package forge wraps the GitHub API (via drone/go-scm) to resolve commit
// metadata and push commit statuses. It implements core.CommitLookup and
// core.StatusService.
package forge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/drone/go-scm/scm"
	"github.com/drone/go-scm/scm/driver/github"
	"github.com/gregjones/httpcache"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/go-rootcerts"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ando-ci/ando/core"
)

const installationTokenCacheSize = 256

// InstallationTokenSource exchanges a GitHub App installation ID for a
// short-lived installation access token. Separated out so cmd/ando-server
// can wire in the real JWT-signing implementation without forge/ itself
// holding the app's private key.
type InstallationTokenSource interface {
	Token(ctx context.Context, installationID string) (string, error)
}

// Client is the forge-facing half of the ingress/orchestration pipeline:
// commit lookups for trigger, and commit-status pushes for orchestrator.
type Client struct {
	tokens     InstallationTokenSource
	cache      *lru.Cache
	limiter    *rate.Limiter
	base       string
	httpClient *http.Client
}

// NewClient returns a Client. base is the GitHub API base URL, empty for
// the public github.com API. caCertFile, if non-empty, configures a
// custom trust root (GitHub Enterprise deployments behind a private CA).
func NewClient(base, caCertFile string, tokens InstallationTokenSource) (*Client, error) {
	cache, err := lru.New(installationTokenCacheSize)
	if err != nil {
		return nil, err
	}

	transport := cleanhttp.DefaultPooledTransport()
	if caCertFile != "" {
		tlsConfig := &tls.Config{}
		if err := rootcerts.ConfigureTLS(tlsConfig, &rootcerts.Config{CAFile: caCertFile}); err != nil {
			return nil, fmt.Errorf("forge: cannot load CA bundle: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}
	// GET responses (commit lookups) are cacheable per the GitHub API's own
	// ETag/Cache-Control headers; httpcache honors those automatically.
	cachingTransport := &httpcache.Transport{Transport: transport, Cache: httpcache.NewMemoryCache()}

	return &Client{
		tokens:     tokens,
		cache:      cache,
		limiter:    rate.NewLimiter(rate.Limit(1), 5), // GitHub secondary rate limit guidance: ~1 req/s sustained
		base:       base,
		httpClient: &http.Client{Transport: cachingTransport},
	}, nil
}

type cachedToken struct {
	token   string
	expires time.Time
}

func (c *Client) scmClient(ctx context.Context, installationID string) (*scm.Client, error) {
	token, err := c.installationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}

	var client *scm.Client
	if c.base != "" {
		client, err = github.New(c.base)
		if err != nil {
			return nil, err
		}
	} else {
		client = github.NewDefault()
	}

	retrier := retryablehttp.NewClient()
	retrier.RetryMax = 3
	retrier.Logger = nil
	retrier.HTTPClient = c.httpClient

	client.Client = oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, retrier.StandardClient()),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	)
	return client, nil
}

// Token exposes the cached installation access token exchange for
// collaborators outside forge that need an authenticated git remote URL
// (see checkout.Git), so the app's private key stays behind the same
// InstallationTokenSource seam used everywhere else in this client.
func (c *Client) Token(ctx context.Context, installationID string) (string, error) {
	return c.installationToken(ctx, installationID)
}

func (c *Client) installationToken(ctx context.Context, installationID string) (string, error) {
	if v, ok := c.cache.Get(installationID); ok {
		cached := v.(cachedToken)
		if time.Now().Before(cached.expires) {
			return cached.token, nil
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	token, err := c.tokens.Token(ctx, installationID)
	if err != nil {
		return "", fmt.Errorf("forge: cannot exchange installation token: %w", err)
	}
	c.cache.Add(installationID, cachedToken{token: token, expires: time.Now().Add(50 * time.Minute)})
	return token, nil
}

// FindCommit implements core.CommitLookup.
func (c *Client) FindCommit(ctx context.Context, installationID, repoSlug, sha string) (message, authorName, authorEmail string, err error) {
	client, err := c.scmClient(ctx, installationID)
	if err != nil {
		return "", "", "", err
	}
	commit, res, err := client.Git.FindCommit(ctx, repoSlug, sha)
	if err != nil {
		return "", "", "", err
	}
	if res != nil && res.Status >= http.StatusBadRequest {
		return "", "", "", fmt.Errorf("forge: commit lookup failed with status %d", res.Status)
	}
	return commit.Message, commit.Author.Name, commit.Author.Email, nil
}

// ResolveHeadSHA implements core.CommitLookup.
func (c *Client) ResolveHeadSHA(ctx context.Context, installationID, repoSlug, branch string) (string, error) {
	client, err := c.scmClient(ctx, installationID)
	if err != nil {
		return "", err
	}
	ref, _, err := client.Git.FindBranch(ctx, repoSlug, branch)
	if err != nil {
		return "", err
	}
	return ref.Sha, nil
}

// buildStatusState maps a core.BuildStatus onto the commit-status states
// go-scm's generic scm.State enumerates.
func buildStatusState(status core.BuildStatus) scm.State {
	switch status {
	case core.StatusQueued:
		return scm.StatePending
	case core.StatusRunning:
		return scm.StateRunning
	case core.StatusSuccess:
		return scm.StateSuccess
	case core.StatusFailed:
		return scm.StateFailure
	case core.StatusCancelled:
		return scm.StateCanceled
	case core.StatusTimedOut:
		return scm.StateError
	default:
		return scm.StateUnknown
	}
}

// Send implements core.StatusService: pushes a commit status derived from
// build onto repoSlug/build.CommitSHA.
func (c *Client) Send(ctx context.Context, installationID, repoSlug string, build *core.Build) error {
	client, err := c.scmClient(ctx, installationID)
	if err != nil {
		return err
	}
	_, _, err = client.Repositories.CreateStatus(ctx, repoSlug, build.CommitSHA, &scm.StatusInput{
		Desc:   statusDescription(build),
		Label:  "ando",
		State:  buildStatusState(build.Status),
		Target: "",
	})
	return err
}

func statusDescription(build *core.Build) string {
	switch build.Status {
	case core.StatusQueued:
		return "build queued"
	case core.StatusRunning:
		return "build running"
	case core.StatusSuccess:
		return "build succeeded"
	case core.StatusFailed:
		return "build failed"
	case core.StatusCancelled:
		return "build cancelled"
	case core.StatusTimedOut:
		return "build timed out"
	default:
		return string(build.Status)
	}
}
