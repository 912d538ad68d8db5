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

package runner

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/tombee/flowy/pkg/errors"
)

// process wraps one spawned task command. The command runs in its own
// process group so timeout signals reach the whole pipeline, not just the
// shell.
type process struct {
	cmd  *exec.Cmd
	pid  int
	done chan waitResult
}

// waitResult is the raw outcome of cmd.Wait.
type waitResult struct {
	err error
}

// waitStatus is the decoded exit state of a finished command.
type waitStatus struct {
	// exitCode is the exit code; nil when the process was signaled
	exitCode *int

	// signal is the terminating signal; nil when exited normally
	signal *int
}

// spawn starts the rendered command script with cwd at the task work dir,
// stdout/stderr redirected to the task's files, and the configured env vars
// layered over the process environment. Stdin is not inherited.
func (c *TaskContext) spawn(commandPath string) (*process, error) {
	stdout, err := os.OpenFile(c.stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.FS("open stdout file", c.stdoutPath, err)
	}
	stderr, err := os.OpenFile(c.stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		stdout.Close()
		return nil, errors.FS("open stderr file", c.stderrPath, err)
	}

	cmd := exec.Command("/bin/sh", commandPath)
	cmd.Dir = c.cwd
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = nil
	cmd.Env = taskEnv(c.cfg.EnvVars)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, errors.Wrap(err, "starting task command")
	}

	p := &process{cmd: cmd, pid: cmd.Process.Pid, done: make(chan waitResult, 1)}
	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		p.done <- waitResult{err: err}
	}()
	return p, nil
}

// taskEnv layers extra variables over the current environment.
func taskEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// waitTimeout blocks until the command exits or the wall-clock limit
// expires. On expiry the process group receives SIGTERM, then SIGKILL after
// the grace window, the status is reaped and discarded, and timedOut is
// reported true.
func (p *process) waitTimeout(timeout, grace time.Duration) (status waitStatus, timedOut bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		status, err = decodeWait(res.err)
		return status, false, err
	case <-timer.C:
	}

	// Deadline expired: escalate TERM -> KILL against the group.
	p.signalGroup(syscall.SIGTERM)

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-p.done:
	case <-graceTimer.C:
		p.signalGroup(syscall.SIGKILL)
		<-p.done
	}
	return waitStatus{}, true, nil
}

// signalGroup delivers sig to the whole process group, falling back to the
// direct pid if the group is already gone.
func (p *process) signalGroup(sig syscall.Signal) {
	if err := syscall.Kill(-p.pid, sig); err != nil {
		syscall.Kill(p.pid, sig)
	}
}

// decodeWait translates cmd.Wait's error into exit code or signal.
func decodeWait(err error) (waitStatus, error) {
	if err == nil {
		code := 0
		return waitStatus{exitCode: &code}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig := int(ws.Signal())
			return waitStatus{signal: &sig}, nil
		}
		code := exitErr.ExitCode()
		return waitStatus{exitCode: &code}, nil
	}
	return waitStatus{}, errors.Wrap(err, "waiting for task command")
}
