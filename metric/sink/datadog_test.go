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

package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ando-ci/ando/core"
)

type fakeProjectStore struct{ projects []*core.Project }

func (f *fakeProjectStore) Find(ctx context.Context, id int64) (*core.Project, error) { return nil, nil }
func (f *fakeProjectStore) FindByExternalID(ctx context.Context, externalID string) (*core.Project, error) {
	return nil, nil
}
func (f *fakeProjectStore) List(ctx context.Context) ([]*core.Project, error) { return f.projects, nil }
func (f *fakeProjectStore) Create(ctx context.Context, p *core.Project) error { return nil }
func (f *fakeProjectStore) Update(ctx context.Context, p *core.Project) error { return nil }
func (f *fakeProjectStore) Delete(ctx context.Context, id int64) error        { return nil }

type fakeBuildStore struct{ count int64 }

func (f *fakeBuildStore) Find(ctx context.Context, id int64) (*core.Build, error) { return nil, nil }
func (f *fakeBuildStore) FindByJobID(ctx context.Context, jobID string) (*core.Build, error) {
	return nil, nil
}
func (f *fakeBuildStore) List(ctx context.Context, projectID int64, limit, offset int) ([]*core.Build, error) {
	return nil, nil
}
func (f *fakeBuildStore) Create(ctx context.Context, b *core.Build) error { return nil }
func (f *fakeBuildStore) Update(ctx context.Context, b *core.Build) error { return nil }
func (f *fakeBuildStore) Count(ctx context.Context) (int64, error)       { return f.count, nil }
func (f *fakeBuildStore) Delete(ctx context.Context, id int64) error      { return nil }

func TestDatadogDoPostsCounters(t *testing.T) {
	var received payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	projects := &fakeProjectStore{projects: []*core.Project{{ID: 1}, {ID: 2}}}
	builds := &fakeBuildStore{count: 7}
	d := New(projects, builds, Config{Endpoint: srv.URL, Token: "tok", Host: "ando-1"})

	if err := d.do(context.Background(), 1234); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received.Series) != 2 {
		t.Fatalf("want 2 series, got %d", len(received.Series))
	}
	if received.Series[0].Metric != "ando.projects" || received.Series[0].Points[0][1] != 2 {
		t.Fatalf("unexpected projects series: %+v", received.Series[0])
	}
	if received.Series[1].Metric != "ando.builds" || received.Series[1].Points[0][1] != 7 {
		t.Fatalf("unexpected builds series: %+v", received.Series[1])
	}
}
