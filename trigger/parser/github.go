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

// Package parser decodes forge-specific webhook payloads into core.Hook.
package parser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ando-ci/ando/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsupportedEvent is returned by Parse when eventType is not one this
// controller acts on ("push", "pull_request", "ping").
type ErrUnsupportedEvent string

func (e ErrUnsupportedEvent) Error() string {
	return fmt.Sprintf("parser: unsupported event %q", string(e))
}

type githubRepository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

type githubCommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubPushPayload struct {
	Ref        string           `json:"ref"`
	Before     string           `json:"before"`
	After      string           `json:"after"`
	Repository githubRepository `json:"repository"`
	HeadCommit *struct {
		Message string             `json:"message"`
		Author  githubCommitAuthor `json:"author"`
	} `json:"head_commit"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

type githubPullRequestPayload struct {
	Action     string           `json:"action"`
	Number     int              `json:"number"`
	Repository githubRepository `json:"repository"`
	PullRequest struct {
		Title string `json:"title"`
		Head  struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// GitHub parses a GitHub webhook delivery (eventType from the
// X-GitHub-Event header, deliveryID from X-GitHub-Delivery) into a
// core.Hook. Returns ErrUnsupportedEvent for events this controller
// ignores (e.g. "issues", "star") so the caller can acknowledge with 200
// without treating it as malformed.
func GitHub(eventType, deliveryID string, body []byte) (*core.Hook, error) {
	switch eventType {
	case "ping":
		return &core.Hook{Event: "ping", DeliveryID: deliveryID}, nil
	case "push":
		return parsePush(deliveryID, body)
	case "pull_request":
		return parsePullRequest(deliveryID, body)
	default:
		return nil, ErrUnsupportedEvent(eventType)
	}
}

func parsePush(deliveryID string, body []byte) (*core.Hook, error) {
	var payload githubPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parser: malformed push payload: %w", err)
	}
	hook := &core.Hook{
		Event:          "push",
		DeliveryID:     deliveryID,
		RepoExternalID: fmt.Sprintf("%d", payload.Repository.ID),
		RepoSlug:       payload.Repository.FullName,
		Ref:            payload.Ref,
		Before:         payload.Before,
		After:          payload.After,
		Branch:         strings.TrimPrefix(payload.Ref, "refs/heads/"),
	}
	if payload.Installation != nil {
		hook.InstallationID = fmt.Sprintf("%d", payload.Installation.ID)
	}
	if payload.HeadCommit != nil {
		hook.Message = payload.HeadCommit.Message
		hook.AuthorName = payload.HeadCommit.Author.Name
		hook.AuthorEmail = payload.HeadCommit.Author.Email
	}
	return hook, nil
}

func parsePullRequest(deliveryID string, body []byte) (*core.Hook, error) {
	var payload githubPullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parser: malformed pull_request payload: %w", err)
	}
	hook := &core.Hook{
		Event:             "pull_request",
		Action:            payload.Action,
		DeliveryID:        deliveryID,
		RepoExternalID:    fmt.Sprintf("%d", payload.Repository.ID),
		RepoSlug:          payload.Repository.FullName,
		Ref:               fmt.Sprintf("refs/pull/%d/head", payload.Number),
		After:             payload.PullRequest.Head.SHA,
		Branch:            payload.PullRequest.Head.Ref,
		BaseBranch:        payload.PullRequest.Base.Ref,
		PullRequestNumber: payload.Number,
		PullRequestTitle:  payload.PullRequest.Title,
		AuthorName:        payload.PullRequest.User.Login,
	}
	if payload.Installation != nil {
		hook.InstallationID = fmt.Sprintf("%d", payload.Installation.ID)
	}
	return hook, nil
}
