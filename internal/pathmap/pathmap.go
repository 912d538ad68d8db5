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

// Package pathmap provides bidirectional host/task path translation. Every
// File that crosses the stdlib boundary goes through a PathMapper, so a
// future container backend only needs a new mapper implementation — no
// stdlib call sites change.
package pathmap

// PathMapper translates between host paths and the paths a task's
// expressions observe.
type PathMapper interface {
	// HostToTask maps an absolute host path to its in-task form.
	HostToTask(host string) string

	// TaskToHost maps an in-task path back to the host path.
	TaskToHost(task string) string
}

// Identity maps every path to itself. Used outside task contexts.
type Identity struct{}

// HostToTask implements PathMapper.
func (Identity) HostToTask(host string) string { return host }

// TaskToHost implements PathMapper.
func (Identity) TaskToHost(task string) string { return task }

// TaskPathMapper is the mapper installed for task-context evaluation. With
// direct (non-container) execution both directions are the identity; the
// task directory is retained so a container backend can translate against
// its mount table.
type TaskPathMapper struct {
	taskDir string
}

// NewTaskPathMapper creates a mapper rooted at the task's directory.
func NewTaskPathMapper(taskDir string) *TaskPathMapper {
	return &TaskPathMapper{taskDir: taskDir}
}

// TaskDir returns the task directory this mapper is rooted at.
func (m *TaskPathMapper) TaskDir() string { return m.taskDir }

// HostToTask implements PathMapper.
func (m *TaskPathMapper) HostToTask(host string) string { return host }

// TaskToHost implements PathMapper.
func (m *TaskPathMapper) TaskToHost(task string) string { return task }
