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

package metric

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ando-ci/ando/core"
)

// promRecorder is shared across tests since promauto registers its
// collectors against the global default registry on first construction.
var promRecorder = NewPromRecorder()

func TestPromRecorderExposesCounters(t *testing.T) {
	promRecorder.BuildQueued()
	promRecorder.BuildStarted("octo/hello")
	promRecorder.BuildFinished("octo/hello", core.StatusSuccess, 12.5)
	promRecorder.QueueDepth(3)
	promRecorder.ActiveWorkers(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"ando_builds_queued_total", "ando_builds_started_total", "ando_builds_finished_total", "ando_build_duration_seconds", "ando_queue_depth", "ando_workers_active"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected /metrics output to contain %q", want)
		}
	}
}

func TestNoopRecorderDiscardsObservations(t *testing.T) {
	var r Recorder = NewNoop()
	r.BuildQueued()
	r.BuildStarted("octo/hello")
	r.BuildFinished("octo/hello", core.StatusFailed, 1)
	r.QueueDepth(0)
	r.ActiveWorkers(0)
}
