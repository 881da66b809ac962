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

// Command ando-server runs the build controller: it ingests forge
// webhooks, schedules and executes builds inside warm containers,
// streams their logs, and serves a Prometheus /metrics endpoint.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ando-ci/ando/cmd/ando-server/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatalln("server: cannot load configuration")
	}

	srv, cleanup, err := InjectServer(cfg)
	if err != nil {
		logrus.WithError(err).Fatalln("server: cannot assemble collaborators")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logrus.WithError(err).Fatalln("server: cannot start background components")
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	logrus.WithField("addr", cfg.Server.Addr).Infoln("server: listening")

	select {
	case <-ctx.Done():
		logrus.Infoln("server: shutting down")
	case err := <-errc:
		if err != nil {
			logrus.WithError(err).Errorln("server: listener failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Errorln("server: graceful shutdown failed")
	}
}
