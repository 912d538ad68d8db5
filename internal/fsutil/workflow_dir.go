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

package fsutil

import "path/filepath"

// WorkflowDirectory is the on-disk tree owned by one workflow run. All five
// directories exist from Create until Cleanup; staged inputs always land
// under Inputs.
type WorkflowDirectory struct {
	// Root is base/run_id
	Root string `json:"root"`
	// Work holds per-task execution subtrees
	Work string `json:"work"`
	// Inputs holds workflow-level staged input files
	Inputs string `json:"inputs"`
	// Outputs holds collected output files
	Outputs string `json:"outputs"`
	// Temp holds scratch files
	Temp string `json:"temp"`
}

// CreateWorkflowDirectory creates the per-run directory quintuple under
// base/runID.
func CreateWorkflowDirectory(base, runID string) (WorkflowDirectory, error) {
	root := filepath.Join(base, runID)
	dir := WorkflowDirectory{
		Root:    root,
		Work:    filepath.Join(root, "work"),
		Inputs:  filepath.Join(root, "inputs"),
		Outputs: filepath.Join(root, "outputs"),
		Temp:    filepath.Join(root, "temp"),
	}

	for _, p := range []string{dir.Root, dir.Work, dir.Inputs, dir.Outputs, dir.Temp} {
		if err := CreateDirAll(p); err != nil {
			return WorkflowDirectory{}, err
		}
	}
	return dir, nil
}

// Subdir returns a path under the run's root.
func (d WorkflowDirectory) Subdir(name string) string {
	return filepath.Join(d.Root, name)
}

// StageInput materializes inputs/name as either a copy of source or a
// symlink to it. Symlink is the default for large inputs; copy is required
// when the host source may disappear before the task finishes.
func (d WorkflowDirectory) StageInput(source, name string, copy bool) (string, error) {
	dest := filepath.Join(d.Inputs, name)

	if copy {
		if _, err := CopyFile(source, dest); err != nil {
			return "", err
		}
	} else {
		if err := Symlink(source, dest); err != nil {
			return "", err
		}
	}
	return dest, nil
}

// CollectOutput copies source into outputs/name. Outputs are always copied
// so they survive work-dir teardown.
func (d WorkflowDirectory) CollectOutput(source, name string) (string, error) {
	dest := filepath.Join(d.Outputs, name)
	if _, err := CopyFile(source, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Cleanup removes the run's entire subtree. Safe to call twice.
func (d WorkflowDirectory) Cleanup() error {
	return RemoveDirAll(d.Root)
}
