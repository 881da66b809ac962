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

// Command ando compiles and runs a build script locally: the same
// Build Execution Core the controller uses, self-invoked from the
// command line rather than driven by a webhook.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// exit codes, per spec.md §6 "Exit codes (CLI core)".
const (
	exitSuccess          = 0
	exitBuildFailed      = 1
	exitScriptNotFound   = 2
	exitRuntimeUnavailable = 3
	exitValidationFailed = 4
	exitInternalError    = 5
)

var rootCmd = &cobra.Command{
	Use:   "ando",
	Short: "Run an Ando build script locally",
	Long: `ando compiles a build script and runs its steps against a Docker
container or the host, streaming output the same way the controller does.

Examples:
  ando run
  ando run ando.yml
  ando run --host ando.yml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
