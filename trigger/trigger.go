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

// Package trigger turns a normalized forge hook into a queued build (C5).
package trigger

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ando-ci/ando/core"
)

type triggerer struct {
	builds  core.BuildStore
	sched   core.Scheduler
	status  core.StatusService
	commits core.CommitLookup
	hooks   core.WebhookSender
}

// New returns a build triggerer.
func New(builds core.BuildStore, sched core.Scheduler, status core.StatusService, commits core.CommitLookup, hooks core.WebhookSender) core.Triggerer {
	return &triggerer{
		builds:  builds,
		sched:   sched,
		status:  status,
		commits: commits,
		hooks:   hooks,
	}
}

// Trigger creates and schedules a Build for hook against project. It
// returns (nil, nil) when the hook is legitimately a no-op (branch filter,
// PR builds disabled) rather than an error.
func (t *triggerer) Trigger(ctx context.Context, project *core.Project, hook *core.Hook) (*core.Build, error) {
	logger := logrus.WithFields(logrus.Fields{
		"project": project.Slug(),
		"ref":     hook.Ref,
		"event":   hook.Event,
		"commit":  hook.After,
	})
	logger.Debugln("trigger: received")
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("trigger: unexpected panic: %s", r)
			debug.PrintStack()
		}
	}()

	if hook.Event == "pull_request" && !project.EnablePRBuilds {
		logger.Infoln("trigger: skipping hook, project does not build pull requests")
		return nil, nil
	}
	if !project.MatchesBranch(hook.Branch) {
		logger.Infoln("trigger: skipping hook, branch does not match project filter")
		return nil, nil
	}
	if hook.After == "" || hook.After == core.AllZeroSHA {
		logger.Infoln("trigger: skipping hook, branch deletion or empty commit")
		return nil, nil
	}

	if hook.Message == "" && t.commits != nil {
		message, authorName, authorEmail, err := t.commits.FindCommit(ctx, project.InstallationID, project.Slug(), hook.After)
		if err != nil {
			logger.WithError(err).Warnln("trigger: cannot look up commit, continuing without it")
		} else {
			hook.Message = message
			if hook.AuthorName == "" {
				hook.AuthorName = authorName
			}
			if hook.AuthorEmail == "" {
				hook.AuthorEmail = authorEmail
			}
		}
	}

	triggerKind := core.TriggerPush
	if hook.Event == "pull_request" {
		triggerKind = core.TriggerPullRequest
	}

	build := &core.Build{
		ProjectID:         project.ID,
		CommitSHA:         hook.After,
		Branch:            hook.Branch,
		CommitMessage:     trunc(hook.Message, 2000),
		CommitAuthor:      trunc(hook.AuthorName, 250),
		PullRequestNumber: hook.PullRequestNumber,
		Status:            core.StatusQueued,
		Trigger:           triggerKind,
		QueuedAt:          time.Now().Unix(),
	}

	if err := t.builds.Create(ctx, build); err != nil {
		logger.WithError(err).Errorln("trigger: cannot create build")
		return nil, err
	}
	logger = logger.WithField("build", build.ID)

	jobID, err := t.sched.Schedule(ctx, build)
	if err != nil {
		logger.WithError(err).Errorln("trigger: cannot schedule build")
		return build, err
	}
	build.JobID = jobID
	if err := t.builds.Update(ctx, build); err != nil {
		logger.WithError(err).Warnln("trigger: cannot persist job id")
	}

	if t.status != nil {
		if err := t.status.Send(ctx, project.InstallationID, project.Slug(), build); err != nil {
			logger.WithError(err).Warnln("trigger: cannot post commit status")
		}
	}
	if t.hooks != nil {
		if endpoints := project.NotifyEndpointList(); len(endpoints) != 0 {
			if err := t.hooks.Send(ctx, endpoints, "build.queued", build); err != nil {
				logger.WithError(err).Warnln("trigger: cannot send outbound webhook")
			}
		}
	}

	logger.Infoln("trigger: build queued")
	return build, nil
}

func trunc(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
