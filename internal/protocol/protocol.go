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

// Package protocol defines the versioned two-file exchange between the task
// engine and the out-of-process runner: the engine atomically writes
// task_request.json into the task's directory, spawns the runner with the
// request path as its sole argument, and reads task_response.json after the
// runner exits. The response file is authoritative; the runner's exit code
// is advisory.
package protocol

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"

	"github.com/tombee/flowy/internal/config"
	"github.com/tombee/flowy/internal/fsutil"
	"github.com/tombee/flowy/pkg/errors"
	"github.com/tombee/flowy/pkg/task"
	"github.com/tombee/flowy/pkg/values"
)

// Version is the task-runner protocol version. Both sides refuse to proceed
// on mismatch.
const Version = 1

// File names of the two-file exchange, relative to the task's directory.
const (
	RequestFileName  = "task_request.json"
	ResponseFileName = "task_response.json"
)

// Request is the engine-to-runner message.
type Request struct {
	Version     int                        `json:"version"`
	RunID       string                     `json:"run_id"`
	Task        *task.Task                 `json:"task"`
	Inputs      map[string]values.Envelope `json:"inputs"`
	Config      config.Config              `json:"config"`
	WorkflowDir fsutil.WorkflowDirectory   `json:"workflow_dir"`
}

// Response is the runner-to-engine message.
type Response struct {
	Version     int    `json:"version"`
	RunID       string `json:"run_id"`
	Success     bool   `json:"success"`
	ExitCode    *int   `json:"exit_code"`
	Signal      *int   `json:"signal"`
	ExitSuccess bool   `json:"exit_success"`

	// Stdout and Stderr are file:// URLs of the redirected streams
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	DurationMS int64                      `json:"duration_ms"`
	Outputs    map[string]values.Envelope `json:"outputs,omitempty"`
	WorkDir    string                     `json:"work_dir,omitempty"`

	Error               string `json:"error,omitempty"`
	ErrorClassification string `json:"error_classification,omitempty"`
}

// SuccessResponse builds the response for a completed task.
func SuccessResponse(runID string, exitCode, signal *int, exitSuccess bool, stdout, stderr string, durationMS int64, outputs map[string]values.Envelope, workDir string) Response {
	return Response{
		Version:     Version,
		RunID:       runID,
		Success:     true,
		ExitCode:    exitCode,
		Signal:      signal,
		ExitSuccess: exitSuccess,
		Stdout:      FileURL(stdout),
		Stderr:      FileURL(stderr),
		DurationMS:  durationMS,
		Outputs:     outputs,
		WorkDir:     workDir,
	}
}

// FailureResponse builds the response for a failed task. The classification
// tells the engine which error kind to reconstruct.
func FailureResponse(runID, message, classification string) Response {
	return Response{
		Version:             Version,
		RunID:               runID,
		Success:             false,
		Error:               message,
		ErrorClassification: classification,
	}
}

// WriteRequest atomically writes the request into dir.
func WriteRequest(dir string, req Request) (string, error) {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding task request")
	}
	path := filepath.Join(dir, RequestFileName)
	if err := fsutil.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// ReadRequest reads and decodes a request file. Version checking is the
// caller's responsibility so a mismatch can still be answered on the wire.
func ReadRequest(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, errors.FS("read task request", path, err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, &errors.ParseError{Source: path, Message: "malformed task request", Cause: err}
	}
	return req, nil
}

// WriteResponse atomically writes the response next to the request, so the
// engine reading it never observes partial content.
func WriteResponse(path string, resp Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding task response")
	}
	return fsutil.WriteFileAtomic(path, append(data, '\n'))
}

// ReadResponse reads and decodes a response file.
func ReadResponse(path string) (Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Response{}, errors.FS("read task response", path, err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, &errors.ParseError{Source: path, Message: "malformed task response", Cause: err}
	}
	return resp, nil
}

// ResponsePath returns the response file path for a given request path.
func ResponsePath(requestPath string) string {
	return filepath.Join(filepath.Dir(requestPath), ResponseFileName)
}

// FileURL renders an absolute path as a file:// URL with RFC 3986
// percent-encoding. Empty paths map to empty URLs.
func FileURL(path string) string {
	if path == "" {
		return ""
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

// PathFromFileURL extracts the absolute path from a file:// URL, accepting
// both the empty-host and "localhost" forms.
func PathFromFileURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "invalid file URL %q", raw)
	}
	if u.Scheme != "file" {
		return "", errors.New("not a file URL: " + raw)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", errors.New("unsupported file URL host: " + u.Host)
	}
	return u.Path, nil
}
