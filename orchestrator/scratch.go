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
	"os"
	"path/filepath"
)

// newScratchDir creates a throwaway host directory CopyOut can untar into,
// cleaned up by removeScratchDir once artifacts have been read out of it.
func newScratchDir(prefix string) (string, error) {
	return os.MkdirTemp("", prefix)
}

func removeScratchDir(dir string) {
	_ = os.RemoveAll(dir)
}

// listRegularFiles walks dir and returns every regular file's path
// relative to dir, using slash separators so names match the
// "{project_id}/{build_id}/{filename}" artifact layout regardless of host OS.
func listRegularFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func openScratchFile(dir, relPath string) (*os.File, error) {
	return os.Open(filepath.Join(dir, filepath.FromSlash(relPath)))
}
