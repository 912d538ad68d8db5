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

// Package runner executes one task invocation inside the runner process:
// input binding, working directory setup and staging, command rendering,
// subprocess lifecycle, and output evaluation. One TaskContext lives for
// one run and is discarded after producing a result or an error.
package runner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tombee/flowy/internal/config"
	"github.com/tombee/flowy/internal/fsutil"
	"github.com/tombee/flowy/internal/pathmap"
	"github.com/tombee/flowy/internal/stdlib"
	"github.com/tombee/flowy/pkg/errors"
	"github.com/tombee/flowy/pkg/task"
	"github.com/tombee/flowy/pkg/values"
)

// State names one phase of task execution.
type State string

const (
	StateInit              State = "init"
	StateBindingInputs     State = "binding_inputs"
	StateSetupWorkDir      State = "setup_work_dir"
	StateRenderCommand     State = "render_command"
	StateSpawning          State = "spawning"
	StateWaiting           State = "waiting"
	StateCollectingOutputs State = "collecting_outputs"
	StateDone              State = "done"
	StateTimedOut          State = "timed_out"
	StateFailed            State = "failed"
)

// stagingDirName is the directory under the task cwd where file inputs are
// materialized, one ordinal subdirectory per basename collision.
const stagingDirName = "_miniwdl_inputs"

// defaultGrace is the window between SIGTERM and SIGKILL on timeout.
const defaultGrace = 10 * time.Second

// TaskResult is the outcome of one successful task run.
type TaskResult struct {
	// Outputs holds the evaluated output bindings
	Outputs *values.Bindings

	// ExitCode is the command's exit code; nil when signaled
	ExitCode *int

	// Signal is the terminating signal; nil when exited normally
	Signal *int

	// ExitSuccess reports whether the exit code was in the accepted set
	ExitSuccess bool

	// Stdout and Stderr are host paths of the redirected streams
	Stdout string
	Stderr string

	// Duration is the command's wall-clock time
	Duration time.Duration

	// WorkDir is the task's directory under the workflow work tree
	WorkDir string
}

// TaskContext drives one task invocation through its states.
type TaskContext struct {
	task        *task.Task
	inputs      *values.Bindings
	cfg         config.Config
	workflowDir fsutil.WorkflowDirectory
	runID       string
	logger      *slog.Logger

	state State
	grace time.Duration

	// Paths established during setup
	taskDir    string
	cwd        string
	writeDir   string
	stdoutPath string
	stderrPath string

	lib *stdlib.StdLib

	// bound is the post-staging binding set expressions evaluate against
	bound *values.Bindings
}

// NewTaskContext prepares a context for one run. The workflow directory
// must already exist.
func NewTaskContext(tsk *task.Task, inputs *values.Bindings, cfg config.Config, workflowDir fsutil.WorkflowDirectory, runID string, logger *slog.Logger) (*TaskContext, error) {
	if tsk == nil {
		return nil, errors.New("task is nil")
	}
	if inputs == nil {
		inputs = values.NewBindings()
	}
	if logger == nil {
		logger = slog.Default()
	}

	taskDir := filepath.Join(workflowDir.Work, tsk.Name)
	c := &TaskContext{
		task:        tsk,
		inputs:      inputs,
		cfg:         cfg,
		workflowDir: workflowDir,
		runID:       runID,
		logger:      logger.With(slog.String("run_id", runID), slog.String("task", tsk.Name)),
		state:       StateInit,
		grace:       defaultGrace,
		taskDir:     taskDir,
		cwd:         filepath.Join(taskDir, "work"),
		writeDir:    filepath.Join(taskDir, "write_"),
		stdoutPath:  filepath.Join(taskDir, "stdout"),
		stderrPath:  filepath.Join(taskDir, "stderr"),
	}
	c.lib = stdlib.New("1.2", pathmap.NewTaskPathMapper(taskDir), true, c.writeDir)
	return c, nil
}

// State returns the current execution state.
func (c *TaskContext) State() State { return c.state }

// TaskDir returns the task's directory under the workflow work tree.
func (c *TaskContext) TaskDir() string { return c.taskDir }

// Execute runs the task to completion. The phases are strictly sequential;
// any fatal error moves the context to a terminal state.
func (c *TaskContext) Execute() (*TaskResult, error) {
	start := time.Now()

	c.state = StateBindingInputs
	if err := c.bindInputs(); err != nil {
		c.state = StateFailed
		return nil, err
	}

	c.state = StateSetupWorkDir
	if err := c.setupWorkDir(); err != nil {
		c.state = StateFailed
		return nil, err
	}

	c.state = StateRenderCommand
	commandPath, err := c.renderCommand()
	if err != nil {
		c.state = StateFailed
		return nil, err
	}

	timeout, err := c.timeout()
	if err != nil {
		c.state = StateFailed
		return nil, err
	}

	c.state = StateSpawning
	proc, err := c.spawn(commandPath)
	if err != nil {
		c.state = StateFailed
		return nil, err
	}
	c.logger.Debug("command spawned", slog.Int("pid", proc.pid), slog.Duration("timeout", timeout))

	c.state = StateWaiting
	wait, timedOut, err := proc.waitTimeout(timeout, c.grace)
	duration := time.Since(start)
	if timedOut {
		c.state = StateTimedOut
		return nil, &errors.TaskTimeoutError{RunID: c.runID, Elapsed: duration, Limit: timeout}
	}
	if err != nil {
		c.state = StateFailed
		return nil, err
	}

	if err := c.checkExit(wait); err != nil {
		c.state = StateFailed
		return nil, err
	}

	c.state = StateCollectingOutputs
	outputs, err := c.collectOutputs()
	if err != nil {
		c.state = StateFailed
		return nil, err
	}

	c.state = StateDone
	c.logger.Info("task completed",
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Bool("exit_success", true))

	return &TaskResult{
		Outputs:     outputs,
		ExitCode:    wait.exitCode,
		Signal:      wait.signal,
		ExitSuccess: true,
		Stdout:      c.stdoutPath,
		Stderr:      c.stderrPath,
		Duration:    duration,
		WorkDir:     c.taskDir,
	}, nil
}

// bindInputs resolves every declared input in declaration order, so later
// defaults may reference earlier inputs. An explicit binding wins over a
// default expression.
func (c *TaskContext) bindInputs() error {
	bound := values.NewBindings()

	for _, in := range c.task.Inputs {
		if v, ok := c.inputs.Resolve(in.Name); ok {
			coerced, err := coerce(in.Type, v)
			if err != nil {
				return &errors.TypeCheckError{Context: in.Name, Message: err.Error()}
			}
			bound.Bind(in.Name, coerced)
			continue
		}

		if in.Default != "" {
			native, err := c.lib.Eval(in.Default, bound.Native())
			if err != nil {
				return err
			}
			v, err := values.FromNative(in.Type, native)
			if err != nil {
				return &errors.TypeCheckError{Context: in.Name, Message: err.Error()}
			}
			bound.Bind(in.Name, v)
			continue
		}

		if in.Type.IsOptional() {
			bound.Bind(in.Name, values.Null{Declared: in.Type})
			continue
		}

		return &errors.EvalError{
			Expr:    in.Name,
			Message: fmt.Sprintf("required input %s of task %s has no binding and no default", in.Name, c.task.Name),
		}
	}

	c.bound = bound
	return nil
}

// coerce admits a provided value into the declared type, allowing the
// usual widenings (Int into Float, String into File).
func coerce(declared values.Type, v values.Value) (values.Value, error) {
	if v.Type().Equal(declared) || v.Type().Equal(declared.Unwrap()) {
		return v, nil
	}
	if _, isNull := v.(values.Null); isNull {
		if declared.IsOptional() {
			return values.Null{Declared: declared}, nil
		}
		return nil, fmt.Errorf("null provided for non-optional %s", declared)
	}
	return values.FromNative(declared, v.Native())
}

// setupWorkDir creates the task directory tree, truncates stdout/stderr,
// and stages every file input into the task cwd.
func (c *TaskContext) setupWorkDir() error {
	for _, dir := range []string{c.taskDir, c.cwd, c.writeDir} {
		if err := fsutil.CreateDirAll(dir); err != nil {
			return err
		}
	}
	for _, path := range []string{c.stdoutPath, c.stderrPath} {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return errors.FS("create file", path, err)
		}
	}
	c.lib.BindTaskFiles(c.stdoutPath, c.stderrPath, c.cwd)

	return c.stageInputs()
}

// stageInputs materializes every File value under
// cwd/_miniwdl_inputs/<ordinal>/<basename> and rewrites the bindings so
// task expressions see the staged paths. Ordinals deduplicate identical
// basenames; identical sources share one staged copy.
func (c *TaskContext) stageInputs() error {
	staged := make(map[string]string)
	basenameCount := make(map[string]int)

	for _, name := range c.bound.Names() {
		v, _ := c.bound.Resolve(name)
		for _, hostPath := range values.CollectFiles(v) {
			if _, done := staged[hostPath]; done {
				continue
			}

			if _, err := os.Stat(hostPath); err != nil {
				return errors.FS("stat input file", hostPath, err)
			}

			base := filepath.Base(hostPath)
			ordinal := basenameCount[base]
			basenameCount[base] = ordinal + 1

			dest := filepath.Join(c.cwd, stagingDirName, strconv.Itoa(ordinal), base)
			if c.cfg.CopyInputFiles {
				if _, err := fsutil.CopyFile(hostPath, dest); err != nil {
					return err
				}
			} else {
				if err := fsutil.Symlink(hostPath, dest); err != nil {
					return err
				}
			}

			// Containment is checked on the parent: a staged symlink
			// intentionally resolves to the host source outside the
			// task directory.
			within, err := fsutil.PathIsWithin(filepath.Dir(dest), c.taskDir)
			if err != nil {
				return err
			}
			if !within {
				return errors.FS("stage input file", dest, errors.New("staged path escapes task directory"))
			}

			staged[hostPath] = dest
			c.logger.Debug("input staged", slog.String("source", hostPath), slog.String("path", dest))
		}
	}

	if len(staged) == 0 {
		return nil
	}

	rewritten := values.NewBindings()
	for _, name := range c.bound.Names() {
		v, _ := c.bound.Resolve(name)
		rewritten.Bind(name, values.RewritePaths(v, func(p string) string {
			if dest, ok := staged[p]; ok {
				return dest
			}
			return p
		}))
	}
	c.bound = rewritten
	return nil
}

// renderCommand interpolates the command template against the post-staging
// bindings and writes the executable script.
func (c *TaskContext) renderCommand() (string, error) {
	env := c.bound.Native()

	var script []byte
	for _, part := range c.task.Command {
		if part.Expr == "" {
			script = append(script, part.Literal...)
			continue
		}
		result, err := c.lib.Eval(part.Expr, env)
		if err != nil {
			return "", err
		}
		script = append(script, formatFragment(result)...)
	}

	path := filepath.Join(c.taskDir, "command")
	if err := fsutil.WriteFileAtomic(path, script); err != nil {
		return "", err
	}
	if err := fsutil.MakeExecutable(path); err != nil {
		return "", err
	}
	return path, nil
}

// formatFragment renders an interpolated expression result as shell text.
func formatFragment(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		var out string
		for i, item := range val {
			if i > 0 {
				out += " "
			}
			out += formatFragment(item)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}

// timeout resolves the effective wall-clock limit: the task's runtime
// timeout when declared, else the configured default.
func (c *TaskContext) timeout() (time.Duration, error) {
	src, ok := c.task.Runtime[task.RuntimeTimeout]
	if !ok || src == "" {
		return c.cfg.TaskTimeout, nil
	}
	native, err := c.lib.Eval(src, c.bound.Native())
	if err != nil {
		return 0, err
	}
	d, err := task.ParseTimeout(native)
	if err != nil {
		return 0, &errors.EvalError{Expr: src, Message: err.Error()}
	}
	if d <= 0 {
		return c.cfg.TaskTimeout, nil
	}
	return d, nil
}

// checkExit applies the return-code policy. Signal termination is always a
// failure; retries live in the scheduler, not here.
func (c *TaskContext) checkExit(w waitStatus) error {
	if w.signal != nil {
		return &errors.CommandFailedError{ExitCode: -1, Signal: *w.signal}
	}

	policy := task.ReturnCodes{}
	if src, ok := c.task.Runtime[task.RuntimeReturnCodes]; ok && src != "" {
		native, err := c.lib.Eval(src, c.bound.Native())
		if err != nil {
			return err
		}
		policy, err = task.ParseReturnCodes(native)
		if err != nil {
			return &errors.EvalError{Expr: src, Message: err.Error()}
		}
	}

	code := 0
	if w.exitCode != nil {
		code = *w.exitCode
	}
	if !policy.Accepts(code) {
		return &errors.CommandFailedError{ExitCode: code}
	}
	return nil
}

// collectOutputs evaluates every output expression against the post-staging
// bindings plus earlier outputs, resolving produced files against the task
// cwd. Every produced File must exist.
func (c *TaskContext) collectOutputs() (*values.Bindings, error) {
	outputs := values.NewBindings()
	env := c.bound.Clone()

	for _, out := range c.task.Outputs {
		native, err := c.lib.Eval(out.Expr, env.Native())
		if err != nil {
			return nil, err
		}
		v, err := values.FromNative(out.Type, native)
		if err != nil {
			return nil, &errors.TypeCheckError{Context: out.Name, Message: err.Error()}
		}

		v = values.RewritePaths(v, func(p string) string {
			if filepath.IsAbs(p) {
				return p
			}
			return filepath.Join(c.cwd, p)
		})
		for _, p := range values.CollectFiles(v) {
			if _, err := os.Stat(p); err != nil {
				return nil, &errors.EvalError{
					Expr:    out.Expr,
					Message: fmt.Sprintf("output %s names missing file %s", out.Name, p),
				}
			}
		}

		outputs.Bind(out.Name, v)
		env.Bind(out.Name, v)
	}
	return outputs, nil
}
