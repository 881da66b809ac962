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

package container

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/gosimple/slug"
	"github.com/peterbourgon/diskv"

	"github.com/ando-ci/ando/core"
)

// hashPrefixLen is the number of hex characters from the script hash kept
// in the container name; just enough to roll the name over on every
// script change without producing unwieldy names.
const hashPrefixLen = 12

// HashScript returns the hex MD5 digest of a build script's raw bytes, the
// name-rollover key spec.md pins for warm containers. MD5 is used here
// purely as a short, fast content fingerprint for naming, never for
// anything security sensitive (see vault for the actual secret cipher).
func HashScript(scriptBytes []byte) string {
	sum := md5.Sum(scriptBytes)
	return hex.EncodeToString(sum[:])
}

// Name returns the deterministic warm-container name for cfg:
// ando-<slugified-project-name>-<hex-prefix-of-md5(script-bytes)>.
func Name(cfg core.ContainerConfig) string {
	prefix := cfg.ScriptHash
	if len(prefix) > hashPrefixLen {
		prefix = prefix[:hashPrefixLen]
	}
	return "ando-" + slug.Make(cfg.ProjectSlug) + "-" + prefix
}

// registry is a disk-backed cache mapping a warm container's name to its
// last known Docker container id, so EnsureContainer can skip a
// ContainerList round-trip on the common path. Docker remains the source
// of truth; a stale or missing entry just falls back to a list-by-name
// lookup.
type registry struct {
	store *diskv.Diskv
}

func newRegistry(baseDir string) *registry {
	return &registry{
		store: diskv.New(diskv.Options{
			BasePath:     baseDir,
			Transform:    func(string) []string { return []string{} },
			CacheSizeMax: 1 << 20, // 1MB
		}),
	}
}

func (r *registry) get(name string) (string, bool) {
	b, err := r.store.Read(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (r *registry) put(name, containerID string) {
	_ = r.store.Write(name, []byte(containerID))
}

func (r *registry) forget(name string) {
	_ = r.store.Erase(name)
}
