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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowy/internal/config"
	"github.com/tombee/flowy/internal/fsutil"
	"github.com/tombee/flowy/internal/protocol"
	"github.com/tombee/flowy/pkg/errors"
	"github.com/tombee/flowy/pkg/task"
	"github.com/tombee/flowy/pkg/values"
)

// writeRequest prepares a request file for a task under a fresh workflow
// directory, returning its path.
func writeRequest(t *testing.T, taskYAML string, inputs *values.Bindings, version int) string {
	t.Helper()
	workflowDir, err := fsutil.CreateWorkflowDirectory(t.TempDir(), "run123")
	require.NoError(t, err)

	tsk, err := task.Decode([]byte(taskYAML))
	require.NoError(t, err)

	if inputs == nil {
		inputs = values.NewBindings()
	}
	wireInputs, err := values.SerializeBindings(inputs)
	require.NoError(t, err)

	taskDir := filepath.Join(workflowDir.Work, tsk.Name)
	require.NoError(t, fsutil.CreateDirAll(taskDir))

	cfg := config.Default()
	cfg.TaskTimeout = time.Minute

	path, err := protocol.WriteRequest(taskDir, protocol.Request{
		Version:     version,
		RunID:       "run123",
		Task:        tsk,
		Inputs:      wireInputs,
		Config:      cfg,
		WorkflowDir: workflowDir,
	})
	require.NoError(t, err)
	return path
}

func TestRunWritesSuccessResponse(t *testing.T) {
	requestPath := writeRequest(t, `
name: hello
outputs:
  - name: out
    type: String
    expr: read_string(stdout())
command: |
  echo "hello-subprocess"
`, nil, protocol.Version)

	require.NoError(t, Run(requestPath, nil))

	resp, err := protocol.ReadResponse(protocol.ResponsePath(requestPath))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, protocol.Version, resp.Version)
	assert.Equal(t, "run123", resp.RunID)
	assert.True(t, resp.ExitSuccess)

	outputs, err := values.DeserializeBindings(resp.Outputs)
	require.NoError(t, err)
	out, ok := outputs.Resolve("out")
	require.True(t, ok)
	assert.Equal(t, values.String{Val: "hello-subprocess"}, out)

	stdoutPath, err := protocol.PathFromFileURL(resp.Stdout)
	require.NoError(t, err)
	content, err := fsutil.ReadFileToString(stdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "hello-subprocess\n", content)
}

func TestRunWritesFailureResponseOnCommandFailure(t *testing.T) {
	requestPath := writeRequest(t, `
name: failing
command: |
  exit 7
`, nil, protocol.Version)

	err := Run(requestPath, nil)
	require.Error(t, err)

	resp, readErr := protocol.ReadResponse(protocol.ResponsePath(requestPath))
	require.NoError(t, readErr)
	assert.False(t, resp.Success)
	assert.Equal(t, errors.ClassCommandFailed, resp.ErrorClassification)
	assert.Contains(t, resp.Error, "exit code 7")
}

func TestRunProtocolMismatch(t *testing.T) {
	requestPath := writeRequest(t, "name: x\ncommand: echo hi\n", nil, protocol.Version-1)

	err := Run(requestPath, nil)
	var mismatch *errors.ProtocolMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, protocol.Version, mismatch.Expected)
	assert.Equal(t, protocol.Version-1, mismatch.Got)

	resp, readErr := protocol.ReadResponse(protocol.ResponsePath(requestPath))
	require.NoError(t, readErr)
	assert.False(t, resp.Success)
	assert.Equal(t, errors.ClassProtocolMismatch, resp.ErrorClassification)
}

func TestRunMissingRequest(t *testing.T) {
	err := Run(filepath.Join(t.TempDir(), "task_request.json"), nil)
	assert.Error(t, err)
}

func TestRunTimeoutClassification(t *testing.T) {
	workflowDir, err := fsutil.CreateWorkflowDirectory(t.TempDir(), "run_to")
	require.NoError(t, err)

	tsk, err := task.Decode([]byte("name: sleeper\ncommand: sleep 10\nruntime:\n  timeout: \"1\"\n"))
	require.NoError(t, err)

	taskDir := filepath.Join(workflowDir.Work, tsk.Name)
	require.NoError(t, fsutil.CreateDirAll(taskDir))

	cfg := config.Default()
	requestPath, err := protocol.WriteRequest(taskDir, protocol.Request{
		Version:     protocol.Version,
		RunID:       "run_to",
		Task:        tsk,
		Inputs:      map[string]values.Envelope{},
		Config:      cfg,
		WorkflowDir: workflowDir,
	})
	require.NoError(t, err)

	// The in-process path uses the default 10s grace; this stays well
	// under a minute because the sleep dies on SIGTERM.
	err = Run(requestPath, nil)
	require.Error(t, err)

	resp, readErr := protocol.ReadResponse(protocol.ResponsePath(requestPath))
	require.NoError(t, readErr)
	assert.False(t, resp.Success)
	assert.Equal(t, errors.ClassTimeout, resp.ErrorClassification)
}
