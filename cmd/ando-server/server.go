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

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	chimw "github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/unrolled/secure"

	"github.com/ando-ci/ando/cmd/ando-server/config"
	"github.com/ando-ci/ando/core"
	"github.com/ando-ci/ando/metric"
	"github.com/ando-ci/ando/metric/sink"
	"github.com/ando-ci/ando/orchestrator"
	"github.com/ando-ci/ando/session"
)

// drainTimeout bounds how long Shutdown waits for in-flight requests
// before forcing the listener closed.
const drainTimeout = 30 * time.Second

// Server wires the webhook ingress, metrics endpoint, and the
// orchestrator/sweeper background processes into one running process.
// Everything not named in spec.md §6 (project/build REST management, the
// SPA, auth) stays out of scope, matching the "external collaborators"
// non-goal.
type Server struct {
	httpServer *http.Server
	dispatcher core.Dispatcher
	orch       *orchestrator.Orchestrator
	sweeper    *orchestrator.Sweeper
	metrics    *metric.PromRecorder
	tokens     *session.Manager
	datadog    *sink.Datadog // nil when Config.Datadog.Enabled is false
}

// NewServer assembles the router and the long-running background
// components; it does not start them (see Start). tokens authenticates
// the one named-in-scope REST surface (spec.md's "authenticated
// manual-trigger API calls"); it is not a general project/build CRUD
// shell, which spec.md explicitly keeps out of scope.
func NewServer(cfg config.Config, dispatcher core.Dispatcher, orch *orchestrator.Orchestrator, sweeper *orchestrator.Sweeper, metrics *metric.PromRecorder, tokens *session.Manager, datadog *sink.Datadog) *Server {
	s := &Server{dispatcher: dispatcher, orch: orch, sweeper: sweeper, metrics: metrics, tokens: tokens, datadog: datadog}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(secureMiddleware(cfg).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-GitHub-Event", "X-GitHub-Delivery", "X-Hub-Signature-256"},
	}))

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", metric.Handler())
	r.Post("/webhooks/github", handleWebhook(dispatcher))

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/builds/trigger", s.handleTriggerManual)
		r.Post("/builds/{id}/retry", s.handleRetry)
		r.Post("/builds/{id}/cancel", s.handleCancel)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // no write deadline
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func secureMiddleware(cfg config.Config) *secure.Secure {
	return secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IsDevelopment:      cfg.Server.Proto != "https",
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debugln("server: request handled")
	})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWebhook adapts spec.md §6's ingress contract onto net/http: it
// reads the headers the dispatcher cares about, hands the raw body to
// HandleWebhook unparsed, and maps the outcome onto a status code.
func handleWebhook(dispatcher core.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		headers := map[string]string{
			"X-GitHub-Event":       r.Header.Get("X-GitHub-Event"),
			"X-GitHub-Delivery":    r.Header.Get("X-GitHub-Delivery"),
			"X-Hub-Signature-256":  r.Header.Get("X-Hub-Signature-256"),
		}

		result, err := dispatcher.HandleWebhook(r.Context(), headers["X-GitHub-Event"], headers, body)
		if err != nil {
			logrus.WithError(err).Warnln("server: webhook handling failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch result.Outcome {
		case core.OutcomeUnauthorized:
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "signature mismatch"})
		case core.OutcomeAccepted:
			w.WriteHeader(http.StatusOK)
			if result.Reason == "pong" {
				json.NewEncoder(w).Encode(map[string]string{"message": "pong"})
				return
			}
			json.NewEncoder(w).Encode(map[string]int64{"buildId": result.BuildID})
		default:
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"message": "ignored", "reason": result.Reason})
		}
	}
}

// authTokenContextKey is unexported; only authenticate and the handlers
// in this file ever set or read it.
type authTokenContextKey struct{}

// authenticate verifies a Bearer ApiToken via session.Manager before
// letting a request reach the manual-trigger/retry/cancel handlers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		record, err := s.tokens.Verify(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), authTokenContextKey{}, record)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleTriggerManual implements spec.md's "authenticated manual-trigger
// API calls": re-detects required secrets live and either enqueues a
// Manual build or reports which secrets are missing.
func (s *Server) handleTriggerManual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID int64  `json:"projectId"`
		Branch    string `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	actor, _ := r.Context().Value(authTokenContextKey{}).(*core.ApiToken)
	actorName := ""
	if actor != nil {
		actorName = strconv.FormatInt(actor.ActorID, 10)
	}

	build, missing, err := s.dispatcher.TriggerManual(r.Context(), req.ProjectID, actorName, req.Branch)
	if err != nil {
		logrus.WithError(err).Warnln("server: manual trigger failed")
		http.Error(w, "trigger failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(missing) > 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{"missingSecrets": missing})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int64{"buildId": build.ID})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid build id", http.StatusBadRequest)
		return
	}
	build, err := s.orch.Retry(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"buildId": build.ID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid build id", http.StatusBadRequest)
		return
	}
	s.orch.Cancel(id)
	w.WriteHeader(http.StatusAccepted)
}

// Start launches the background components: the orchestrator's worker
// pool, the Datadog sink when one is configured, and the sweeper. It does
// not start the HTTP listener; the caller runs ListenAndServe separately
// (it blocks, matching net/http's own idiom).
func (s *Server) Start(ctx context.Context) error {
	s.orch.Start(ctx)
	if s.datadog != nil {
		go func() {
			if err := s.datadog.Start(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Warnln("server: datadog sink stopped")
			}
		}()
	}
	return s.sweeper.Start(ctx)
}

// Shutdown drains in-flight HTTP requests and stops the background
// components, in that order so an in-flight manual-trigger request isn't
// cut off mid-enqueue.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(drainCtx)
	s.sweeper.Stop()
	s.orch.Stop()
	return err
}

// ListenAndServe blocks serving HTTP until Shutdown is called from
// another goroutine, or a non-shutdown error occurs.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
