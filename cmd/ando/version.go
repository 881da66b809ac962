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
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "0.0.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ando CLI version",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := semver.NewVersion(version)
		if err != nil {
			return &runError{code: exitInternalError, err: fmt.Errorf("malformed build version %q: %w", version, err)}
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
		return nil
	},
}

// requireMinVersion fails with exitValidationFailed when the running CLI
// is older than min, the same check a build script's declared minimum
// tool version exercises before a build runs.
func requireMinVersion(min string) error {
	if min == "" {
		return nil
	}
	want, err := semver.NewVersion(min)
	if err != nil {
		return &runError{code: exitValidationFailed, err: fmt.Errorf("script declares an invalid min_version %q: %w", min, err)}
	}
	have, err := semver.NewVersion(version)
	if err != nil {
		return nil // a running version that is not valid semver skips the check; the default 0.0.0-dev parses and is checked
	}
	if have.LessThan(*want) {
		return &runError{code: exitValidationFailed, err: fmt.Errorf("script requires ando >= %s, running %s", want, have)}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
