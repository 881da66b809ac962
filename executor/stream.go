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

// Package executor implements the Step Executor strategies (C2): Host
// runs a command on the controller itself, Container runs it via a warm
// container's exec API. Both stream stdout/stderr line by line and treat
// stderr as ordinary output.
package executor

import (
	"bufio"
	"io"
	"sync"

	"github.com/oxtoacart/bpool"

	"github.com/ando-ci/ando/core"
)

// scanBufPool hands out reusable scanner backing buffers so a controller
// running many concurrent steps does not allocate a fresh large buffer
// per command.
var scanBufPool = bpool.NewBytePool(64, 64*1024)

// streamLines scans r line by line, sending each to lines tagged with
// stderr, until r is exhausted or returns an error.
func streamLines(r io.Reader, stderr bool, lines chan<- core.ExecLine, wg *sync.WaitGroup) {
	defer wg.Done()
	if r == nil {
		return
	}
	buf := scanBufPool.Get()
	defer scanBufPool.Put(buf)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		lines <- core.ExecLine{Text: scanner.Text(), Stderr: stderr}
	}
}
