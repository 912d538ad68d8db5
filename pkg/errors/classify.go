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

package errors

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Wire classifications carried in the task-runner response. The response
// file is authoritative; these strings let the engine rebuild the error kind
// without sharing memory with the runner process.
const (
	ClassTimeout          = "timeout"
	ClassCommandFailed    = "command_failed"
	ClassFileSystem       = "filesystem"
	ClassRunFailed        = "run_failed"
	ClassProtocolMismatch = "protocol_mismatch"
	ClassRuntime          = "runtime_error"
)

// Classify maps an error to its wire classification. Unrecognized kinds
// (parse, typecheck, eval, plain errors) collapse to ClassRuntime.
func Classify(err error) string {
	var (
		timeout  *TaskTimeoutError
		command  *CommandFailedError
		fs       *FileSystemError
		run      *RunFailedError
		protocol *ProtocolMismatchError
	)
	switch {
	case errors.As(err, &timeout):
		return ClassTimeout
	case errors.As(err, &command):
		return ClassCommandFailed
	case errors.As(err, &fs):
		return ClassFileSystem
	case errors.As(err, &run):
		return ClassRunFailed
	case errors.As(err, &protocol):
		return ClassProtocolMismatch
	default:
		return ClassRuntime
	}
}

// FromClassification rebuilds an error kind from its wire classification and
// message. Structured fields that were flattened into the message on the
// runner side (exit codes, durations) are recovered best-effort; the message
// always survives verbatim.
func FromClassification(class, message, runID string) error {
	switch class {
	case ClassTimeout:
		elapsed, limit := parseTimeoutDetail(message)
		return &TaskTimeoutError{RunID: runID, Elapsed: elapsed, Limit: limit}
	case ClassCommandFailed:
		code, signal := parseCommandDetail(message)
		return &CommandFailedError{ExitCode: code, Signal: signal}
	case ClassFileSystem:
		return &FileSystemError{Op: "task runner", Path: "", Cause: errors.New(message)}
	case ClassRunFailed:
		return &RunFailedError{RunID: runID, Reason: message}
	case ClassProtocolMismatch:
		return &ProtocolMismatchError{}
	default:
		return &RunFailedError{RunID: runID, Reason: message}
	}
}

// parseTimeoutDetail recovers elapsed/limit durations from a
// TaskTimeoutError message. Zero values when the message came from
// elsewhere.
func parseTimeoutDetail(message string) (elapsed, limit time.Duration) {
	after := strings.Index(message, "after ")
	if after < 0 {
		return 0, 0
	}
	rest := message[after+len("after "):]
	fields := strings.SplitN(rest, " (limit ", 2)
	if d, err := time.ParseDuration(strings.TrimSpace(fields[0])); err == nil {
		elapsed = d
	}
	if len(fields) == 2 {
		if d, err := time.ParseDuration(strings.TrimSuffix(strings.TrimSpace(fields[1]), ")")); err == nil {
			limit = d
		}
	}
	return elapsed, limit
}

// parseCommandDetail recovers the exit code or signal from a
// CommandFailedError message.
func parseCommandDetail(message string) (code, signal int) {
	if idx := strings.Index(message, "signal "); idx >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(message[idx+len("signal "):])); err == nil {
			return -1, n
		}
	}
	if idx := strings.Index(message, "exit code "); idx >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(message[idx+len("exit code "):])); err == nil {
			return n, 0
		}
	}
	return -1, 0
}
