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

package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/ando-ci/ando/core"
	"github.com/ando-ci/ando/trigger/parser"
)

// ErrMalformedPayload signals a 400: the body did not parse as JSON at all.
var ErrMalformedPayload = errors.New("trigger: malformed webhook payload")

// deliveryCacheSize bounds the recent-delivery dedupe window (I5): only
// exact delivery replays within this many deliveries are rejected, per the
// "dedupe only exact replays" decision.
const deliveryCacheSize = 4096

type peekRepository struct {
	Repository struct {
		ID int64 `json:"id"`
	} `json:"repository"`
}

type dispatcher struct {
	projects  core.ProjectStore
	secrets   core.SecretStore
	commits   core.CommitLookup
	checkout  core.Checkout
	scripts   core.StepSource
	triggerer core.Triggerer
	seen      *lru.Cache
}

// NewDispatcher returns the C5 ingress & dispatch component. secrets,
// commits, checkout and scripts back TriggerManual's live secret
// re-detection and HEAD-SHA resolution (§4.3); HandleWebhook does not use
// them.
func NewDispatcher(projects core.ProjectStore, secrets core.SecretStore, commits core.CommitLookup, checkout core.Checkout, scripts core.StepSource, triggerer core.Triggerer) core.Dispatcher {
	cache, err := lru.New(deliveryCacheSize)
	if err != nil {
		// only returns an error for a non-positive size, which deliveryCacheSize never is.
		panic(err)
	}
	return &dispatcher{
		projects:  projects,
		secrets:   secrets,
		commits:   commits,
		checkout:  checkout,
		scripts:   scripts,
		triggerer: triggerer,
		seen:      cache,
	}
}

// HandleWebhook verifies the signature, deduplicates by delivery id,
// filters by branch/PR settings (delegated to Triggerer) and schedules a
// build. See spec ingress contract: 400 malformed, 401 bad signature, 200
// otherwise (accepted or ignored).
func (d *dispatcher) HandleWebhook(ctx context.Context, eventType string, headers map[string]string, rawBody []byte) (*core.DispatchResult, error) {
	deliveryID := headers["X-GitHub-Delivery"]
	logger := logrus.WithFields(logrus.Fields{"event": eventType, "delivery": deliveryID})

	if eventType == "ping" {
		return &core.DispatchResult{Outcome: core.OutcomeAccepted, Reason: "pong"}, nil
	}

	var peek peekRepository
	if err := json.Unmarshal(rawBody, &peek); err != nil {
		return nil, ErrMalformedPayload
	}

	project, err := d.projects.FindByExternalID(ctx, itoa(peek.Repository.ID))
	if err != nil {
		logger.WithError(err).Errorln("trigger: cannot look up project")
		return nil, err
	}
	if project == nil {
		logger.Infoln("trigger: ignoring webhook for unregistered repository")
		return &core.DispatchResult{Outcome: core.OutcomeIgnored, Reason: "unregistered repository"}, nil
	}

	signature := headers["X-Hub-Signature-256"]
	if !verifySignature(project.WebhookSecret, rawBody, signature) {
		logger.Warnln("trigger: rejecting webhook, signature mismatch")
		return &core.DispatchResult{Outcome: core.OutcomeUnauthorized, Reason: "signature mismatch"}, nil
	}

	if deliveryID != "" {
		if _, ok := d.seen.Get(deliveryID); ok {
			logger.Infoln("trigger: ignoring duplicate delivery")
			return &core.DispatchResult{Outcome: core.OutcomeIgnored, Reason: "duplicate delivery"}, nil
		}
		d.seen.Add(deliveryID, time.Now().Unix())
	}

	hook, err := parser.GitHub(eventType, deliveryID, rawBody)
	if err != nil {
		var unsupported parser.ErrUnsupportedEvent
		if errors.As(err, &unsupported) {
			return &core.DispatchResult{Outcome: core.OutcomeIgnored, Reason: err.Error()}, nil
		}
		return nil, ErrMalformedPayload
	}

	build, err := d.triggerer.Trigger(ctx, project, hook)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return &core.DispatchResult{Outcome: core.OutcomeIgnored, Reason: "filtered by project settings"}, nil
	}
	return &core.DispatchResult{Outcome: core.OutcomeAccepted, BuildID: build.ID}, nil
}

// TriggerManual creates a build for projectID at branch's current head,
// bypassing the forge webhook entirely (operator-initiated rebuild). Per
// §4.3, required secrets are re-detected from the build script as it
// exists right now (not the project's cached RequiredSecrets column); a
// manual trigger with any missing required secret returns the missing
// list without enqueueing a build.
func (d *dispatcher) TriggerManual(ctx context.Context, projectID int64, actor string, branch string) (*core.Build, []string, error) {
	logger := logrus.WithFields(logrus.Fields{"project_id": projectID, "actor": actor, "branch": branch})

	project, err := d.projects.Find(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if project == nil {
		return nil, nil, errors.New("trigger: unknown project")
	}

	sha, err := d.resolveSHA(ctx, project, branch)
	if err != nil {
		logger.WithError(err).Warnln("trigger: cannot resolve head sha, falling back to HEAD")
		sha = "HEAD"
	}

	missing, err := d.missingSecrets(ctx, project, branch, sha)
	if err != nil {
		return nil, nil, err
	}
	if len(missing) > 0 {
		logger.WithField("missing_secrets", missing).Infoln("trigger: manual trigger rejected, missing required secrets")
		return nil, missing, nil
	}

	hook := &core.Hook{
		Event:      "push",
		DeliveryID: "manual-" + actor,
		RepoSlug:   project.Slug(),
		Branch:     branch,
		After:      sha,
		AuthorName: actor,
	}
	build, err := d.triggerer.Trigger(ctx, project, hook)
	if err != nil {
		return nil, nil, err
	}
	return build, nil, nil
}

// resolveSHA resolves branch's current head commit via the forge,
// returning the literal "HEAD" when resolution is unavailable or fails
// (§4.3, §6 "falling back to literal HEAD on failure").
func (d *dispatcher) resolveSHA(ctx context.Context, project *core.Project, branch string) (string, error) {
	if d.commits == nil {
		return "HEAD", nil
	}
	return d.commits.ResolveHeadSHA(ctx, project.InstallationID, project.Slug(), branch)
}

// missingSecrets checks out the build script at sha and re-detects its
// required secrets against what is actually configured for project,
// returning the names that are declared but not configured.
func (d *dispatcher) missingSecrets(ctx context.Context, project *core.Project, branch, sha string) ([]string, error) {
	if d.checkout == nil || d.scripts == nil {
		return nil, nil
	}

	probe := &core.Build{ProjectID: project.ID, CommitSHA: sha, Branch: branch}
	hostRoot, cleanup, err := d.checkout.Prepare(ctx, project, probe)
	if err != nil {
		return nil, errors.New("trigger: cannot check out build script: " + err.Error())
	}
	defer cleanup()

	required, err := d.scripts.RequiredSecrets(ctx, filepath.Join(hostRoot, core.DefaultScriptName))
	if err != nil {
		return nil, errors.New("trigger: cannot read build script: " + err.Error())
	}
	if len(required) == 0 {
		return nil, nil
	}

	configured := make(map[string]struct{}, len(required))
	if d.secrets != nil {
		rows, err := d.secrets.List(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			configured[row.Name] = struct{}{}
		}
	}

	var missing []string
	for _, name := range required {
		if _, ok := configured[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func verifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}

func itoa(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
