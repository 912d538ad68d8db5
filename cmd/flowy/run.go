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

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/flowy/internal/config"
	"github.com/tombee/flowy/internal/engine"
	"github.com/tombee/flowy/internal/fsutil"
	"github.com/tombee/flowy/internal/runstore"
	"github.com/tombee/flowy/pkg/api"
	"github.com/tombee/flowy/pkg/task"
	"github.com/tombee/flowy/pkg/values"
)

// runOptions holds the run command's flags.
type runOptions struct {
	configPath string
	runID      string
	baseDir    string
	inputs     []string
	inputsJSON string
	cleanup    bool
	noHistory  bool
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <task.yaml>",
		Short: "Execute one task definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, args[0], opts, logger)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a flowy config file")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run identifier (generated when empty)")
	cmd.Flags().StringVar(&opts.baseDir, "base-dir", "", "Base directory for the run tree (overrides config work_dir)")
	cmd.Flags().StringArrayVarP(&opts.inputs, "input", "i", nil, "Task input as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.inputsJSON, "inputs", "", "Path to a JSON file of task inputs")
	cmd.Flags().BoolVar(&opts.cleanup, "cleanup", false, "Remove the run tree after execution")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Skip recording the run in the history database")

	return cmd
}

func runTask(cmd *cobra.Command, taskPath string, opts *runOptions, logger *slog.Logger) error {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	if opts.baseDir != "" {
		cfg.WorkDir = opts.baseDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tsk, err := task.Load(taskPath)
	if err != nil {
		return err
	}

	inputs, err := parseInputs(tsk, opts)
	if err != nil {
		return err
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	workflowDir, err := fsutil.CreateWorkflowDirectory(cfg.WorkDir, runID)
	if err != nil {
		return err
	}
	if opts.cleanup {
		defer workflowDir.Cleanup()
	}

	eng := engine.New(cfg, workflowDir, logger)
	if !opts.noHistory {
		if store, err := runstore.Open(filepath.Join(cfg.WorkDir, "flowy_runs.db")); err == nil {
			defer store.Close()
			eng.WithRunStore(store)
		} else {
			logger.Warn("run history unavailable", slog.Any("error", err))
		}
	}

	result, err := eng.ExecuteTask(cmd.Context(), tsk, inputs, runID)
	if err != nil {
		resp := api.ErrorResponse{Status: "error", Message: err.Error()}
		encoded, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return err
	}

	// Promote output files into outputs/ so they outlive the work tree.
	outputs, err := promoteOutputs(workflowDir, result.Outputs)
	if err != nil {
		return err
	}

	wireOutputs, err := values.SerializeBindings(outputs)
	if err != nil {
		return err
	}
	encodedOutputs, err := json.Marshal(wireOutputs)
	if err != nil {
		return err
	}

	resp := api.ExecuteResponse{
		Status:     "success",
		Outputs:    encodedOutputs,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMS: result.Duration.Milliseconds(),
	}
	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

// parseInputs builds the input bindings from --input pairs and/or an inputs
// JSON file, coercing against the task's declared types.
func parseInputs(tsk *task.Task, opts *runOptions) (*values.Bindings, error) {
	bindings := values.NewBindings()

	if opts.inputsJSON != "" {
		data, err := os.ReadFile(opts.inputsJSON)
		if err != nil {
			return nil, fmt.Errorf("reading inputs file: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing inputs file: %w", err)
		}
		for _, in := range tsk.Inputs {
			native, ok := raw[in.Name]
			if !ok {
				continue
			}
			v, err := values.FromNative(in.Type, native)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", in.Name, err)
			}
			bindings.Bind(in.Name, v)
		}
	}

	for _, pair := range opts.inputs {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid --input %q, expected name=value", pair)
		}
		in, ok := tsk.Input(name)
		if !ok {
			return nil, fmt.Errorf("task %s declares no input %q", tsk.Name, name)
		}
		v, err := parseScalar(in.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		bindings.Bind(name, v)
	}

	return bindings, nil
}

// parseScalar converts a command-line string into a value of the declared
// type. File paths are made absolute so staging sees host-absolute sources.
func parseScalar(t values.Type, raw string) (values.Value, error) {
	inner := t.Unwrap()
	switch inner.Kind {
	case values.KindString:
		return values.String{Val: raw}, nil
	case values.KindFile, values.KindDirectory:
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, err
		}
		if inner.Kind == values.KindDirectory {
			return values.Directory{Path: abs}, nil
		}
		return values.File{Path: abs}, nil
	default:
		// Everything else is parsed as JSON, covering numbers,
		// booleans, arrays, and maps.
		var native any
		if err := json.Unmarshal([]byte(raw), &native); err != nil {
			return nil, fmt.Errorf("cannot parse %q as %s", raw, t)
		}
		return values.FromNative(t, native)
	}
}

// promoteOutputs copies every output file into outputs/ and rewrites the
// bindings to the promoted paths.
func promoteOutputs(dir fsutil.WorkflowDirectory, outputs *values.Bindings) (*values.Bindings, error) {
	promoted := values.NewBindings()
	seen := make(map[string]string)

	for _, name := range outputs.Names() {
		v, _ := outputs.Resolve(name)
		var copyErr error
		v = values.RewritePaths(v, func(p string) string {
			if dest, ok := seen[p]; ok {
				return dest
			}
			dest, err := dir.CollectOutput(p, filepath.Base(p))
			if err != nil {
				copyErr = err
				return p
			}
			seen[p] = dest
			return dest
		})
		if copyErr != nil {
			return nil, copyErr
		}
		promoted.Bind(name, v)
	}
	return promoted, nil
}
