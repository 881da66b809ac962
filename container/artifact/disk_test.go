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

package artifact

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
)

func TestDiskPutOpenDelete(t *testing.T) {
	d := NewDisk(t.TempDir())
	ctx := context.Background()

	n, err := d.Put(ctx, 1, 2, "out.zip", bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 11 {
		t.Fatalf("want 11 bytes written, got %d", n)
	}

	rc, err := d.Open(ctx, 1, 2, "out.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("want %q, got %q", "hello world", got)
	}

	if err := d.Delete(ctx, 1, 2, "out.zip"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Open(ctx, 1, 2, "out.zip"); err == nil {
		t.Fatalf("expected error opening deleted artifact")
	}

	if err := d.Delete(ctx, 1, 2, "out.zip"); err != nil {
		t.Fatalf("deleting a missing artifact should not error, got: %v", err)
	}

	if _, err := os.Stat(d.path(1, 2, "out.zip")); !os.IsNotExist(err) {
		t.Fatalf("expected file to be gone")
	}
}
