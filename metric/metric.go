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

// Package metric exposes a pull-based Prometheus /metrics endpoint for
// the controller, counting builds by outcome and queue/worker occupancy.
// It is independent of metric/sink, which pushes periodic usage gauges to
// an external collector.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ando-ci/ando/core"
)

// Recorder observes build lifecycle events for the /metrics endpoint.
// The orchestrator holds one of these; a nil Recorder is never passed,
// NewNoop below is used instead so call sites never need a nil check.
type Recorder interface {
	BuildQueued()
	BuildStarted(projectSlug string)
	BuildFinished(projectSlug string, status core.BuildStatus, seconds float64)
	QueueDepth(depth int)
	ActiveWorkers(n int)
}

// PromRecorder is the Prometheus-backed Recorder. Each process must
// construct at most one, since promauto registers its collectors against
// the default registry on first use.
type PromRecorder struct {
	queued   prometheus.Counter
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	depth    prometheus.Gauge
	workers  prometheus.Gauge
}

// NewPromRecorder registers the ando build counters/gauges/histograms
// against the default Prometheus registry and returns a Recorder backed
// by them.
func NewPromRecorder() *PromRecorder {
	return &PromRecorder{
		queued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ando_builds_queued_total",
			Help: "Total number of builds enqueued.",
		}),
		started: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ando_builds_started_total",
			Help: "Total number of builds that began executing, by project.",
		}, []string{"project"}),
		finished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ando_builds_finished_total",
			Help: "Total number of builds that reached a terminal status, by project and status.",
		}, []string{"project", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ando_build_duration_seconds",
			Help:    "Build wall-clock duration from start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~4.5h
		}, []string{"project"}),
		depth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ando_queue_depth",
			Help: "Number of builds currently queued awaiting a worker.",
		}),
		workers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ando_workers_active",
			Help: "Number of orchestrator workers currently executing a build.",
		}),
	}
}

// BuildQueued increments the queued-build counter.
func (p *PromRecorder) BuildQueued() { p.queued.Inc() }

// BuildStarted increments the started-build counter for a project.
func (p *PromRecorder) BuildStarted(projectSlug string) {
	p.started.WithLabelValues(projectSlug).Inc()
}

// BuildFinished records a terminal build outcome and its duration.
func (p *PromRecorder) BuildFinished(projectSlug string, status core.BuildStatus, seconds float64) {
	p.finished.WithLabelValues(projectSlug, string(status)).Inc()
	p.duration.WithLabelValues(projectSlug).Observe(seconds)
}

// QueueDepth sets the current queue depth gauge.
func (p *PromRecorder) QueueDepth(depth int) { p.depth.Set(float64(depth)) }

// ActiveWorkers sets the current active-worker gauge.
func (p *PromRecorder) ActiveWorkers(n int) { p.workers.Set(float64(n)) }

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// noop discards every observation; used where metrics are disabled.
type noop struct{}

// NewNoop returns a Recorder that discards every observation.
func NewNoop() Recorder { return noop{} }

func (noop) BuildQueued()                                                 {}
func (noop) BuildStarted(string)                                          {}
func (noop) BuildFinished(string, core.BuildStatus, float64)              {}
func (noop) QueueDepth(int)                                               {}
func (noop) ActiveWorkers(int)                                            {}
