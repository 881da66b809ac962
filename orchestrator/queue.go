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

package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/ando-ci/ando/core"
	"github.com/ando-ci/ando/metric"
)

// ErrQueueFull is returned by Schedule when the work queue has no free
// capacity; distributed multi-node scheduling is out of scope (§1), so a
// single bounded in-process channel is the entire queue.
var ErrQueueFull = errors.New("orchestrator: work queue is full")

// Queue is the in-process core.Scheduler: a bounded FIFO of build ids plus
// a small set of ids cancelled before a worker picked them up.
type Queue struct {
	ch      chan int64
	metrics metric.Recorder

	mu        sync.Mutex
	cancelled map[int64]struct{}
}

// NewQueue returns a Queue with room for capacity pending builds. Metrics
// are a no-op until SetMetrics is called.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:        make(chan int64, capacity),
		cancelled: make(map[int64]struct{}),
		metrics:   metric.NewNoop(),
	}
}

// SetMetrics wires a Recorder into the queue; New in orchestrator.go calls
// this so every Schedule/pop updates the /metrics queue-depth gauge.
func (q *Queue) SetMetrics(m metric.Recorder) {
	if m != nil {
		q.metrics = m
	}
}

// Schedule implements core.Scheduler.
func (q *Queue) Schedule(ctx context.Context, build *core.Build) (string, error) {
	jobID := ksuid.New().String()
	select {
	case q.ch <- build.ID:
		q.metrics.BuildQueued()
		q.metrics.QueueDepth(len(q.ch))
		return jobID, nil
	default:
		return "", ErrQueueFull
	}
}

// Cancel implements core.Scheduler. If the build has already been popped
// by a worker, this is a no-op here; Running→Cancelled is instead driven
// by the orchestrator's per-build cancel signal (see Orchestrator.Cancel).
func (q *Queue) Cancel(ctx context.Context, build *core.Build) error {
	q.mu.Lock()
	q.cancelled[build.ID] = struct{}{}
	q.mu.Unlock()
	return nil
}

// pop blocks for the next queued build id, or returns ok=false once ctx
// is done.
func (q *Queue) pop(ctx context.Context) (id int64, ok bool) {
	select {
	case id := <-q.ch:
		q.metrics.QueueDepth(len(q.ch))
		return id, true
	case <-ctx.Done():
		return 0, false
	}
}

// consumeCancelled reports and clears whether buildID was cancelled while
// still queued.
func (q *Queue) consumeCancelled(buildID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.cancelled[buildID]; ok {
		delete(q.cancelled, buildID)
		return true
	}
	return false
}
