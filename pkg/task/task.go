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

// Package task defines the declarative task AST the runtime executes: typed
// inputs and outputs, a command template of literal-or-expression fragments,
// and a runtime section of resource expressions. Tasks arrive either from
// the workflow-language frontend or from YAML definition files; both decode
// into the same structures, and the JSON form is what crosses the
// task-runner protocol.
package task

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/flowy/pkg/errors"
	"github.com/tombee/flowy/pkg/values"
)

// Task is one hermetic unit of execution.
type Task struct {
	// Name identifies the task; it also names the per-task directory
	// under the workflow run's work tree.
	Name string `json:"name"`

	// Inputs are the declared typed inputs, in declaration order.
	Inputs []Input `json:"inputs,omitempty"`

	// Outputs are the declared typed outputs with their expressions.
	Outputs []Output `json:"outputs,omitempty"`

	// Command is the shell command template.
	Command Command `json:"command"`

	// Runtime maps resource keys (cpu, memory, disks, docker, maxRetries,
	// returnCodes, timeout) to expression source text.
	Runtime map[string]string `json:"runtime,omitempty"`

	// Meta carries free-form task metadata.
	Meta map[string]string `json:"meta,omitempty"`

	// ParameterMeta carries free-form per-parameter metadata.
	ParameterMeta map[string]string `json:"parameter_meta,omitempty"`
}

// Input is one declared task input.
type Input struct {
	Name string      `json:"name"`
	Type values.Type `json:"type"`

	// Default is an expression evaluated when the caller provides no
	// binding. Empty means the input is required unless its type is
	// optional.
	Default string `json:"default,omitempty"`
}

// Output is one declared task output.
type Output struct {
	Name string      `json:"name"`
	Type values.Type `json:"type"`

	// Expr is the expression producing the output value, evaluated after
	// the command exits.
	Expr string `json:"expr"`
}

// taskDoc is the YAML definition-file shape; types are source notation
// strings converted on decode.
type taskDoc struct {
	Name    string `yaml:"name"`
	Inputs  []struct {
		Name    string `yaml:"name"`
		Type    string `yaml:"type"`
		Default string `yaml:"default"`
	} `yaml:"inputs"`
	Outputs []struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
		Expr string `yaml:"expr"`
	} `yaml:"outputs"`
	Command       string            `yaml:"command"`
	Runtime       map[string]string `yaml:"runtime"`
	Meta          map[string]string `yaml:"meta"`
	ParameterMeta map[string]string `yaml:"parameter_meta"`
}

// Load reads a task definition from a YAML file.
func Load(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ParseError{Source: path, Message: "cannot read task definition", Cause: err}
	}
	t, err := Decode(data)
	if err != nil {
		var parse *errors.ParseError
		if errors.As(err, &parse) {
			parse.Source = path
		}
		return nil, err
	}
	return t, nil
}

// Decode parses a YAML task definition.
func Decode(data []byte) (*Task, error) {
	var doc taskDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errors.ParseError{Message: "malformed task definition", Cause: err}
	}
	if doc.Name == "" {
		return nil, &errors.ParseError{Message: "task has no name"}
	}
	if doc.Command == "" {
		return nil, &errors.ParseError{Message: fmt.Sprintf("task %s has no command", doc.Name)}
	}

	t := &Task{
		Name:          doc.Name,
		Runtime:       doc.Runtime,
		Meta:          doc.Meta,
		ParameterMeta: doc.ParameterMeta,
	}

	for _, in := range doc.Inputs {
		typ, err := values.ParseType(in.Type)
		if err != nil {
			return nil, &errors.ParseError{Message: fmt.Sprintf("input %s: %v", in.Name, err)}
		}
		t.Inputs = append(t.Inputs, Input{Name: in.Name, Type: typ, Default: in.Default})
	}

	for _, out := range doc.Outputs {
		typ, err := values.ParseType(out.Type)
		if err != nil {
			return nil, &errors.ParseError{Message: fmt.Sprintf("output %s: %v", out.Name, err)}
		}
		if out.Expr == "" {
			return nil, &errors.ParseError{Message: fmt.Sprintf("output %s has no expression", out.Name)}
		}
		t.Outputs = append(t.Outputs, Output{Name: out.Name, Type: typ, Expr: out.Expr})
	}

	command, err := ParseCommand(doc.Command)
	if err != nil {
		return nil, &errors.ParseError{Message: fmt.Sprintf("task %s command: %v", doc.Name, err)}
	}
	t.Command = command

	return t, nil
}

// Input returns the declared input with the given name.
func (t *Task) Input(name string) (Input, bool) {
	for _, in := range t.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}
