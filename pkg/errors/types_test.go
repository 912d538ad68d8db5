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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "timeout",
			err:  &TaskTimeoutError{RunID: "run1", Elapsed: 2 * time.Second, Limit: time.Second},
			want: "task run1 timed out after 2s (limit 1s)",
		},
		{
			name: "command exit code",
			err:  &CommandFailedError{ExitCode: 7},
			want: "command failed with exit code 7",
		},
		{
			name: "command signal",
			err:  &CommandFailedError{ExitCode: -1, Signal: 9},
			want: "command terminated by signal 9",
		},
		{
			name: "filesystem",
			err:  &FileSystemError{Op: "create directory", Path: "/nope", Cause: New("permission denied")},
			want: "create directory /nope: permission denied",
		},
		{
			name: "run failed",
			err:  &RunFailedError{RunID: "run2", Reason: "missing or malformed response"},
			want: "run run2 failed: missing or malformed response",
		},
		{
			name: "protocol mismatch",
			err:  &ProtocolMismatchError{Expected: 1, Got: 0},
			want: "protocol mismatch: expected version 1, got 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", &TaskTimeoutError{RunID: "r"}, ClassTimeout},
		{"command", &CommandFailedError{ExitCode: 1}, ClassCommandFailed},
		{"filesystem", &FileSystemError{Op: "stat", Path: "/x"}, ClassFileSystem},
		{"run failed", &RunFailedError{RunID: "r"}, ClassRunFailed},
		{"protocol", &ProtocolMismatchError{Expected: 1, Got: 2}, ClassProtocolMismatch},
		{"eval collapses to runtime", &EvalError{Expr: "1+", Message: "bad"}, ClassRuntime},
		{"wrapped timeout still classifies", Wrap(&TaskTimeoutError{RunID: "r"}, "executing task"), ClassTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFromClassificationRoundTrip(t *testing.T) {
	orig := &TaskTimeoutError{RunID: "run9", Elapsed: 1500 * time.Millisecond, Limit: time.Second}
	rebuilt := FromClassification(ClassTimeout, orig.Error(), "run9")

	var timeout *TaskTimeoutError
	require.True(t, As(rebuilt, &timeout))
	assert.Equal(t, "run9", timeout.RunID)
	assert.Equal(t, 1500*time.Millisecond, timeout.Elapsed)
	assert.Equal(t, time.Second, timeout.Limit)
}

func TestFromClassificationCommand(t *testing.T) {
	rebuilt := FromClassification(ClassCommandFailed, (&CommandFailedError{ExitCode: 7}).Error(), "run1")

	var command *CommandFailedError
	require.True(t, As(rebuilt, &command))
	assert.Equal(t, 7, command.ExitCode)
	assert.Equal(t, 0, command.Signal)

	rebuilt = FromClassification(ClassCommandFailed, (&CommandFailedError{ExitCode: -1, Signal: 15}).Error(), "run1")
	require.True(t, As(rebuilt, &command))
	assert.Equal(t, 15, command.Signal)
}

func TestFromClassificationUnknownFallsBack(t *testing.T) {
	rebuilt := FromClassification("something_else", "boom", "run3")

	var run *RunFailedError
	require.True(t, As(rebuilt, &run))
	assert.Equal(t, "run3", run.RunID)
	assert.Equal(t, "boom", run.Reason)
}

func TestFSHelper(t *testing.T) {
	assert.NoError(t, FS("read file", "/tmp/x", nil))

	err := FS("read file", "/tmp/x", New("gone"))
	var fs *FileSystemError
	require.True(t, As(err, &fs))
	assert.Equal(t, "/tmp/x", fs.Path)
}
