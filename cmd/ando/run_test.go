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
	"errors"
	"testing"
)

func TestBuildLogPathMatchesScriptExtension(t *testing.T) {
	cases := map[string]string{
		"ando.yml":         "build.yml.log",
		"dir/ando.yaml":    "dir/build.yaml.log",
		"noext":            "build.log.log",
	}
	for input, want := range cases {
		if got := buildLogPath(input); got != want {
			t.Errorf("buildLogPath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestLocalSlugIsStableForSamePath(t *testing.T) {
	a := localSlug("a/ando.yml")
	b := localSlug("a/ando.yml")
	if a != b {
		t.Fatalf("expected a stable slug, got %q and %q", a, b)
	}
	c := localSlug("b/ando.yml")
	if a == c {
		t.Fatalf("expected distinct directories to produce distinct slugs")
	}
}

func TestExitCodeForMapsRunError(t *testing.T) {
	err := &runError{code: exitBuildFailed, err: errors.New("boom")}
	if got := exitCodeFor(err); got != exitBuildFailed {
		t.Fatalf("expected %d, got %d", exitBuildFailed, got)
	}
}

func TestExitCodeForDefaultsToInternalError(t *testing.T) {
	if got := exitCodeFor(errors.New("unexpected")); got != exitInternalError {
		t.Fatalf("expected %d, got %d", exitInternalError, got)
	}
}

func TestRequireMinVersionAllowsLowerOrEqual(t *testing.T) {
	version = "1.2.0"
	defer func() { version = "0.0.0-dev" }()

	if err := requireMinVersion(""); err != nil {
		t.Fatalf("empty min_version should never fail: %v", err)
	}
	if err := requireMinVersion("1.0.0"); err != nil {
		t.Fatalf("expected 1.2.0 to satisfy min_version 1.0.0: %v", err)
	}
}

func TestRequireMinVersionRejectsNewer(t *testing.T) {
	version = "1.0.0"
	defer func() { version = "0.0.0-dev" }()

	err := requireMinVersion("2.0.0")
	if err == nil {
		t.Fatal("expected an error when the script requires a newer ando than is running")
	}
	re, ok := err.(*runError)
	if !ok || re.code != exitValidationFailed {
		t.Fatalf("expected exitValidationFailed, got %#v", err)
	}
}
