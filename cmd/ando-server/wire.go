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

//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/ando-ci/ando/checkout"
	"github.com/ando-ci/ando/cmd/ando-server/config"
	"github.com/ando-ci/ando/container"
	"github.com/ando-ci/ando/container/artifact"
	"github.com/ando-ci/ando/executor"
	"github.com/ando-ci/ando/forge"
	"github.com/ando-ci/ando/livelog"
	"github.com/ando-ci/ando/metric"
	"github.com/ando-ci/ando/metric/sink"
	"github.com/ando-ci/ando/orchestrator"
	"github.com/ando-ci/ando/plugin/webhook"
	"github.com/ando-ci/ando/script"
	"github.com/ando-ci/ando/session"
	"github.com/ando-ci/ando/store"
	"github.com/ando-ci/ando/trigger"
	"github.com/ando-ci/ando/vault"
)

// ProviderSet is the full wire.NewSet this injector would build from;
// `wire_gen.go` is its hand-assembled output (the wire binary is never
// invoked in this build, so the two are kept in sync by hand).
var ProviderSet = wire.NewSet(
	store.Open,
	store.NewProjectStore,
	store.NewSecretStore,
	store.NewSettingsStore,
	store.NewBuildStore,
	store.NewArtifactStore,
	store.NewLogStore,
	store.NewTokenStore,
	vault.New,
	session.New,
	newGithubAppTokens,
	forge.NewClient,
	checkout.New,
	container.NewDockerClient,
	container.NewManager,
	executor.NewContainer,
	script.New,
	artifact.NewDisk,
	livelog.New,
	webhook.New,
	metric.NewPromRecorder,
	sink.New,
	orchestrator.New,
	orchestrator.NewSweeper,
	trigger.New,
	trigger.NewDispatcher,
	NewServer,
)

// InjectServer is the wireinject-only declaration; wire_gen.go carries
// the real implementation run by main.go.
func InjectServer(cfg config.Config) (*Server, func(), error) {
	panic(wire.Build(ProviderSet))
}
