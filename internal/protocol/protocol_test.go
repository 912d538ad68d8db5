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

package protocol

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowy/internal/config"
	"github.com/tombee/flowy/internal/fsutil"
	"github.com/tombee/flowy/pkg/task"
	"github.com/tombee/flowy/pkg/values"
)

func sampleRequest(t *testing.T, dir string) Request {
	t.Helper()
	workflowDir, err := fsutil.CreateWorkflowDirectory(dir, "run123")
	require.NoError(t, err)

	tsk, err := task.Decode([]byte("name: hello\ncommand: echo hi\n"))
	require.NoError(t, err)

	inputs, err := values.SerializeBindings(values.NewBindings().Bind("n", values.Int{Val: 5}))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.WorkDir = dir

	return Request{
		Version:     Version,
		RunID:       "run123",
		Task:        tsk,
		Inputs:      inputs,
		Config:      cfg,
		WorkflowDir: workflowDir,
	}
}

func TestRequestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	req := sampleRequest(t, dir)

	path, err := WriteRequest(dir, req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, RequestFileName), path)

	got, err := ReadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, req.Version, got.Version)
	assert.Equal(t, req.RunID, got.RunID)
	assert.Equal(t, req.Task.Name, got.Task.Name)
	assert.Equal(t, req.WorkflowDir, got.WorkflowDir)

	inputs, err := values.DeserializeBindings(got.Inputs)
	require.NoError(t, err)
	v, ok := inputs.Resolve("n")
	require.True(t, ok)
	assert.Equal(t, values.Int{Val: 5}, v)
}

func TestResponseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	code := 0
	outputs, err := values.SerializeBindings(values.NewBindings().Bind("out", values.String{Val: "done"}))
	require.NoError(t, err)

	resp := SuccessResponse("run123", &code, nil, true, "/tmp/stdout", "/tmp/stderr", 1500, outputs, "/tmp/work")
	path := filepath.Join(dir, ResponseFileName)
	require.NoError(t, err)
	require.NoError(t, WriteResponse(path, resp))

	got, err := ReadResponse(path)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, Version, got.Version)
	assert.Equal(t, "run123", got.RunID)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Nil(t, got.Signal)
	assert.Equal(t, "file:///tmp/stdout", got.Stdout)
	assert.Equal(t, int64(1500), got.DurationMS)
}

func TestFailureResponse(t *testing.T) {
	resp := FailureResponse("run1", "boom", "command_failed")
	assert.False(t, resp.Success)
	assert.Equal(t, "boom", resp.Error)
	assert.Equal(t, "command_failed", resp.ErrorClassification)
	assert.Nil(t, resp.ExitCode)
}

func TestReadResponseMissing(t *testing.T) {
	_, err := ReadResponse(filepath.Join(t.TempDir(), ResponseFileName))
	assert.Error(t, err)
}

func TestReadResponseMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ResponseFileName)
	require.NoError(t, fsutil.WriteFileAtomic(path, []byte("{not json")))

	_, err := ReadResponse(path)
	assert.Error(t, err)
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "file:///work/std%20out", FileURL("/work/std out"))
	assert.Equal(t, "", FileURL(""))

	p, err := PathFromFileURL("file:///work/stdout")
	require.NoError(t, err)
	assert.Equal(t, "/work/stdout", p)

	p, err = PathFromFileURL("file://localhost/work/stdout")
	require.NoError(t, err)
	assert.Equal(t, "/work/stdout", p)

	_, err = PathFromFileURL("https://example.com/x")
	assert.Error(t, err)

	_, err = PathFromFileURL("file://otherhost/x")
	assert.Error(t, err)
}

func TestResponsePath(t *testing.T) {
	assert.Equal(t, "/a/b/task_response.json", ResponsePath("/a/b/task_request.json"))
}
