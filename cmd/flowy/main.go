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

// flowy is the command-line surface of the task execution engine.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/flowy/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "flowy",
		Short:         "Execute typed workflow tasks in isolated work directories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(logger))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flowy %s (commit: %s)\n", version, commit)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowy error: %v\n", err)
		os.Exit(1)
	}
}
