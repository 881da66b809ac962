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

package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSignsAndDelivers(t *testing.T) {
	var gotEvent, gotDigest string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Ando-Event")
		gotDigest = r.Header.Get("Digest")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := New("secret")
	err := s.Send(context.Background(), []string{srv.URL}, "build.queued", map[string]int{"buildId": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEvent != "build.queued" {
		t.Fatalf("want event header build.queued, got %q", gotEvent)
	}
	if gotDigest == "" {
		t.Fatal("expected a Digest header to be set")
	}
}

func TestSendNoEndpointsIsNoop(t *testing.T) {
	s := New("secret")
	if err := s.Send(context.Background(), nil, "build.queued", nil); err != nil {
		t.Fatalf("expected no error for empty endpoint list, got %v", err)
	}
}
