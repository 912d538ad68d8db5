// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// flowy-task-runner performs one task invocation per invocation: it reads
// the request file named by its sole argument, executes the task, and
// writes task_response.json next to the request. Exit 0 on task success,
// non-zero on any failure; the response file is the authoritative outcome.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tombee/flowy/internal/log"
	"github.com/tombee/flowy/internal/runner"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: flowy-task-runner <task_request.json>")
		os.Exit(1)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	if err := runner.Run(os.Args[1], logger); err != nil {
		fmt.Fprintf(os.Stderr, "flowy-task-runner error: %v\n", err)
		os.Exit(1)
	}
}
