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

// Package api defines the surface-level request and response envelopes that
// CLI and HTTP frontends exchange with the execution core.
package api

import "encoding/json"

// ExecuteRequest asks the core to execute a task from a workflow document.
type ExecuteRequest struct {
	// Source is the workflow document text
	Source string `json:"source"`

	// Inputs are the caller-provided input values, keyed by name
	Inputs json.RawMessage `json:"inputs,omitempty"`

	// Options tune the execution
	Options *ExecuteOptions `json:"options,omitempty"`
}

// ExecuteOptions are optional execution parameters.
type ExecuteOptions struct {
	// Task selects one task when the document declares several
	Task string `json:"task,omitempty"`

	// RunID names the run; generated when empty
	RunID string `json:"run_id,omitempty"`

	// BaseDir overrides the configured work directory
	BaseDir string `json:"base_dir,omitempty"`
}

// ExecuteResponse reports a completed execution.
type ExecuteResponse struct {
	Status  string          `json:"status"`
	Outputs json.RawMessage `json:"outputs"`

	// Stdout and Stderr are file:// URLs of the redirected streams
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// ErrorResponse reports a failed execution. Message includes the error kind
// tag and context.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
