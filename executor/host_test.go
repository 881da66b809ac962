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

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/ando-ci/ando/core"
)

func drain(t *testing.T, lines <-chan core.ExecLine) []core.ExecLine {
	t.Helper()
	var out []core.ExecLine
	for line := range lines {
		out = append(out, line)
	}
	return out
}

func TestHostRunSuccess(t *testing.T) {
	h := NewHost()
	lines := make(chan core.ExecLine, 16)
	result, err := h.Run(context.Background(), core.ExecRequest{
		Command: "echo",
		Args:    []string{"hello"},
	}, lines)
	got := drain(t, lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(got) != 1 || got[0].Text != "hello" || got[0].Stderr {
		t.Fatalf("unexpected lines: %+v", got)
	}
}

func TestHostRunNonZeroExit(t *testing.T) {
	h := NewHost()
	lines := make(chan core.ExecLine, 16)
	result, err := h.Run(context.Background(), core.ExecRequest{Command: "false"}, lines)
	drain(t, lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.ExitCode == 0 {
		t.Fatalf("expected non-zero exit, got %+v", result)
	}
}

func TestHostRunTimeoutKillsProcess(t *testing.T) {
	h := NewHost()
	lines := make(chan core.ExecLine, 16)
	start := time.Now()
	_, err := h.Run(context.Background(), core.ExecRequest{
		Command: "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	}, lines)
	drain(t, lines)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout did not actually kill the process promptly")
	}
}

func TestHostIsAvailable(t *testing.T) {
	h := NewHost()
	if !h.IsAvailable(context.Background(), "echo") {
		t.Fatalf("expected echo to be available")
	}
	if h.IsAvailable(context.Background(), "definitely-not-a-real-command-xyz") {
		t.Fatalf("expected missing command to be unavailable")
	}
}
