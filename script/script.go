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

// Package script is the declarative build-script host (§6 "Build script
// interface"): given a script file it returns an ordered list of
// core.Steps. It intentionally implements only the pluggable step-list
// loader the design note calls for ("Roslyn scripting host -> pluggable
// step source"), not a general scripting language.
package script

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ando-ci/ando/container"
	"github.com/ando-ci/ando/core"
)

// document is the on-disk shape of a build script.
type document struct {
	Secrets    []string   `yaml:"secrets"`
	MinVersion string     `yaml:"min_version"`
	Steps      []stepYAML `yaml:"steps"`
}

type stepYAML struct {
	Name       string            `yaml:"name"`
	Context    string            `yaml:"context"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	WorkingDir string            `yaml:"working_dir"`
	Env        map[string]string `yaml:"env"`
	Timeout    string            `yaml:"timeout"`
}

var secretNameRE = regexp.MustCompile(core.SecretNamePattern)

// YAMLSource implements core.StepSource by parsing a YAML step list off
// disk. It is stateless; a single instance is shared by every build.
type YAMLSource struct{}

// New returns a YAMLSource.
func New() *YAMLSource { return &YAMLSource{} }

// Steps implements core.StepSource.
func (s *YAMLSource) Steps(ctx context.Context, scriptPath string) ([]core.Step, error) {
	doc, err := s.load(scriptPath)
	if err != nil {
		return nil, err
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("script: %s declares no steps", scriptPath)
	}

	steps := make([]core.Step, 0, len(doc.Steps))
	for i, sy := range doc.Steps {
		if sy.Name == "" {
			return nil, fmt.Errorf("script: step %d is missing a name", i)
		}
		if sy.Command == "" {
			return nil, fmt.Errorf("script: step %q is missing a command", sy.Name)
		}
		timeout := time.Duration(0)
		if sy.Timeout != "" {
			timeout, err = time.ParseDuration(sy.Timeout)
			if err != nil {
				return nil, fmt.Errorf("script: step %q has an invalid timeout %q: %w", sy.Name, sy.Timeout, err)
			}
		}
		steps = append(steps, core.Step{
			Name:       sy.Name,
			Command:    sy.Command,
			Args:       sy.Args,
			WorkingDir: sy.WorkingDir,
			Env:        sy.Env,
			Timeout:    timeout,
		})
	}
	return steps, nil
}

// RequiredSecrets implements core.StepSource; it re-reads the script from
// disk every call so a manual trigger always re-detects against the
// script's *current* declaration (§4.3 "re-detect... live"), never a
// cached copy.
func (s *YAMLSource) RequiredSecrets(ctx context.Context, scriptPath string) ([]string, error) {
	doc, err := s.load(scriptPath)
	if err != nil {
		return nil, err
	}
	for _, name := range doc.Secrets {
		if !secretNameRE.MatchString(name) {
			return nil, fmt.Errorf("script: declared secret %q does not match %s", name, core.SecretNamePattern)
		}
	}
	return doc.Secrets, nil
}

// MinVersion returns the script's declared `min_version` (empty when the
// script does not declare one), for a CLI caller to enforce before
// running steps; core.StepSource itself has no opinion on tool versions.
func (s *YAMLSource) MinVersion(ctx context.Context, scriptPath string) (string, error) {
	doc, err := s.load(scriptPath)
	if err != nil {
		return "", err
	}
	return doc.MinVersion, nil
}

// Hash implements core.StepSource using the MD5 content digest
// container.HashScript/Name expect for the warm-container naming scheme.
func (s *YAMLSource) Hash(ctx context.Context, scriptPath string) (string, error) {
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", err
	}
	return container.HashScript(raw), nil
}

func (s *YAMLSource) load(scriptPath string) (*document, error) {
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("script: cannot parse %s: %w", scriptPath, err)
	}
	return &doc, nil
}
