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

// Package engine is the supervisor side of task execution. For each run it
// writes the protocol request, spawns the out-of-process runner, enforces
// the deadline with kill escalation, and decodes the authoritative response
// file back into typed outputs. Safe for concurrent use; each call must use
// a distinct run id and therefore a distinct task subdirectory.
package engine

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tombee/flowy/internal/config"
	"github.com/tombee/flowy/internal/fsutil"
	"github.com/tombee/flowy/internal/metrics"
	"github.com/tombee/flowy/internal/pathmap"
	"github.com/tombee/flowy/internal/protocol"
	"github.com/tombee/flowy/internal/runstore"
	"github.com/tombee/flowy/internal/stdlib"
	"github.com/tombee/flowy/pkg/errors"
	"github.com/tombee/flowy/pkg/task"
	"github.com/tombee/flowy/pkg/values"
)

// Environment variables overriding the runner binary location. The miniwdl
// name is primary for compatibility with existing deployments; the flowy
// name is honored when the primary is unset.
const (
	RunnerEnvVar    = "MINIWDL_TASK_RUNNER"
	RunnerEnvVarAlt = "FLOWY_TASK_RUNNER"
)

// runnerBinaryName is the sibling binary spawned per task run.
const runnerBinaryName = "flowy-task-runner"

// defaultGrace is how long past the task deadline the runner process may
// live before the engine kills it.
const defaultGrace = 10 * time.Second

// TaskResult is the supervisor-side outcome of one successful task run.
type TaskResult struct {
	// Outputs holds the deserialized output bindings
	Outputs *values.Bindings

	// ExitCode is the command's exit code; nil when signaled
	ExitCode *int

	// Signal is the terminating signal; nil when exited normally
	Signal *int

	// ExitSuccess reports whether the exit code was accepted
	ExitSuccess bool

	// Stdout and Stderr are file:// URLs of the redirected streams
	Stdout string
	Stderr string

	// Duration is the command's wall-clock time
	Duration time.Duration

	// WorkDir is the task's directory under the workflow work tree
	WorkDir string
}

// Engine executes tasks through the out-of-process runner.
type Engine struct {
	cfg         config.Config
	workflowDir fsutil.WorkflowDirectory
	logger      *slog.Logger
	sem         *semaphore.Weighted
	grace       time.Duration

	// store receives best-effort run history rows when set
	store *runstore.Store
}

// New creates an engine over an existing workflow directory.
func New(cfg config.Config, workflowDir fsutil.WorkflowDirectory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		workflowDir: workflowDir,
		logger:      logger.With(slog.String("component", "engine")),
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
		grace:       defaultGrace,
	}
}

// WithRunStore attaches a run-history store.
func (e *Engine) WithRunStore(store *runstore.Store) *Engine {
	e.store = store
	return e
}

// ExecuteTaskDefault executes a task with a background context.
func (e *Engine) ExecuteTaskDefault(tsk *task.Task, inputs *values.Bindings, runID string) (*TaskResult, error) {
	return e.ExecuteTask(context.Background(), tsk, inputs, runID)
}

// ExecuteTask performs one task run: request, spawn, deadline-bounded wait,
// response. One call, one terminal outcome; retries belong to the scheduler
// above.
func (e *Engine) ExecuteTask(ctx context.Context, tsk *task.Task, inputs *values.Bindings, runID string) (*TaskResult, error) {
	if tsk == nil {
		return nil, errors.New("task is nil")
	}
	if inputs == nil {
		inputs = values.NewBindings()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, &errors.RunFailedError{RunID: runID, Reason: "cancelled before start", Cause: err}
	}
	defer e.sem.Release(1)

	logger := e.logger.With(slog.String("run_id", runID), slog.String("task", tsk.Name))
	started := time.Now()
	metrics.RecordStart(tsk.Name)

	result, err := e.executeOnce(ctx, tsk, inputs, runID, logger)

	duration := time.Since(started)
	outcome := "success"
	var exitCode *int
	if err != nil {
		outcome = errors.Classify(err)
	} else {
		exitCode = result.ExitCode
	}
	metrics.RecordCompletion(tsk.Name, outcome, duration)
	e.record(ctx, runstore.Record{
		RunID:    runID,
		Task:     tsk.Name,
		Outcome:  outcome,
		ExitCode: exitCode,
		Duration: duration,
		WorkDir:  filepath.Join(e.workflowDir.Work, tsk.Name),
		Started:  started,
	})

	return result, err
}

// executeOnce drives a single request/response exchange.
func (e *Engine) executeOnce(ctx context.Context, tsk *task.Task, inputs *values.Bindings, runID string, logger *slog.Logger) (*TaskResult, error) {
	taskDir := filepath.Join(e.workflowDir.Work, tsk.Name)
	if err := fsutil.CreateDirAll(taskDir); err != nil {
		return nil, &errors.RunFailedError{RunID: runID, Reason: "creating task directory", Cause: err}
	}

	wireInputs, err := values.SerializeBindings(inputs)
	if err != nil {
		return nil, &errors.RunFailedError{RunID: runID, Reason: "serializing inputs", Cause: err}
	}

	requestPath, err := protocol.WriteRequest(taskDir, protocol.Request{
		Version:     protocol.Version,
		RunID:       runID,
		Task:        tsk,
		Inputs:      wireInputs,
		Config:      e.cfg,
		WorkflowDir: e.workflowDir,
	})
	if err != nil {
		return nil, &errors.RunFailedError{RunID: runID, Reason: "writing task request", Cause: err}
	}

	binary, err := ResolveRunnerBinary()
	if err != nil {
		return nil, &errors.RunFailedError{RunID: runID, Reason: "locating task runner", Cause: err}
	}

	deadline := e.effectiveTimeout(tsk, inputs) + e.grace
	logger.Debug("spawning task runner",
		slog.String("binary", binary),
		slog.Duration("deadline", deadline))

	timedOut, runErr := e.runRunner(ctx, binary, requestPath, taskDir, deadline)

	// The response file is authoritative; the runner's exit code is
	// advisory, and even a killed runner may have written it.
	responsePath := protocol.ResponsePath(requestPath)
	resp, readErr := protocol.ReadResponse(responsePath)
	if readErr != nil {
		if timedOut {
			return nil, &errors.TaskTimeoutError{RunID: runID, Elapsed: deadline, Limit: deadline - e.grace}
		}
		if runErr != nil {
			return nil, &errors.RunFailedError{RunID: runID, Reason: "task runner failed", Cause: runErr}
		}
		return nil, &errors.RunFailedError{RunID: runID, Reason: "missing or malformed response", Cause: readErr}
	}

	if resp.Version != protocol.Version {
		return nil, &errors.ProtocolMismatchError{Expected: protocol.Version, Got: resp.Version}
	}

	if !resp.Success {
		return nil, errors.FromClassification(resp.ErrorClassification, resp.Error, runID)
	}

	outputs, err := values.DeserializeBindings(resp.Outputs)
	if err != nil {
		return nil, &errors.RunFailedError{RunID: runID, Reason: "decoding task outputs", Cause: err}
	}

	logger.Info("task run completed", slog.Int64("duration_ms", resp.DurationMS))
	return &TaskResult{
		Outputs:     outputs,
		ExitCode:    resp.ExitCode,
		Signal:      resp.Signal,
		ExitSuccess: resp.ExitSuccess,
		Stdout:      resp.Stdout,
		Stderr:      resp.Stderr,
		Duration:    time.Duration(resp.DurationMS) * time.Millisecond,
		WorkDir:     resp.WorkDir,
	}, nil
}

// runRunner spawns the runner binary and waits for it, killing the process
// group if it outlives the deadline. Returns whether the deadline fired and
// the wait error, if any.
func (e *Engine) runRunner(ctx context.Context, binary, requestPath, taskDir string, deadline time.Duration) (bool, error) {
	logPath := filepath.Join(taskDir, "runner.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, errors.FS("open runner log", logPath, err)
	}

	cmd := exec.Command(binary, requestPath)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return false, errors.Wrap(err, "starting task runner")
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		logFile.Close()
		done <- err
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case err := <-done:
		return false, err
	case <-ctx.Done():
		killGroup(cmd.Process.Pid)
		<-done
		return false, ctx.Err()
	case <-timer.C:
		killGroup(cmd.Process.Pid)
		<-done
		return true, nil
	}
}

// killGroup force-kills a process group, falling back to the direct pid.
func killGroup(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		syscall.Kill(pid, syscall.SIGKILL)
	}
}

// effectiveTimeout resolves the task's wall-clock limit the same way the
// runner will, falling back to the configured default when the runtime
// expression is absent or unevaluable here.
func (e *Engine) effectiveTimeout(tsk *task.Task, inputs *values.Bindings) time.Duration {
	src, ok := tsk.Runtime[task.RuntimeTimeout]
	if !ok || src == "" {
		return e.cfg.TaskTimeout
	}

	lib := stdlib.New("1.2", pathmap.Identity{}, false, "")
	native, err := lib.Eval(src, inputs.Native())
	if err != nil {
		return e.cfg.TaskTimeout
	}
	d, err := task.ParseTimeout(native)
	if err != nil || d <= 0 {
		return e.cfg.TaskTimeout
	}
	return d
}

// record persists a history row when a store is attached.
func (e *Engine) record(ctx context.Context, rec runstore.Record) {
	if e.store == nil {
		return
	}
	if err := e.store.Record(ctx, rec); err != nil {
		e.logger.Warn("failed to record run history", slog.Any("error", err))
	}
}

// ResolveRunnerBinary locates the task runner: the env override wins, then
// a sibling of the current executable.
func ResolveRunnerBinary() (string, error) {
	if path := os.Getenv(RunnerEnvVar); path != "" {
		return path, nil
	}
	if path := os.Getenv(RunnerEnvVarAlt); path != "" {
		return path, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "locating current executable")
	}
	sibling := filepath.Join(filepath.Dir(self), runnerBinaryName)
	if _, err := os.Stat(sibling); err != nil {
		return "", errors.FS("locate task runner", sibling, err)
	}
	return sibling, nil
}
