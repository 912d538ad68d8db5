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

// Package stdlib implements the expression standard library available to
// task command templates, input defaults, and output expressions.
// Expressions compile to expr-lang programs over an environment holding the
// current bindings plus the function set below; compiled programs are
// cached by source text.
package stdlib

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/flowy/internal/pathmap"
	"github.com/tombee/flowy/pkg/errors"
)

// StdLib is one configured instance of the standard library. Task-context
// instances additionally expose stdout()/stderr() and resolve relative file
// paths against the task's working directory.
type StdLib struct {
	version       string
	mapper        pathmap.PathMapper
	isTaskContext bool

	// writeDir receives files produced by write_lines/write_json/write_tsv
	writeDir string

	// workDir anchors relative file paths in task context
	workDir string

	stdoutPath string
	stderrPath string

	counter atomic64

	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// atomic64 is a mutex-guarded counter for write_ file names.
type atomic64 struct {
	mu sync.Mutex
	n  int64
}

func (a *atomic64) next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return a.n
}

// New creates a standard library instance. isTaskContext enables stdout(),
// stderr() and relative path resolution; writeDir is where write_* output
// lands.
func New(version string, mapper pathmap.PathMapper, isTaskContext bool, writeDir string) *StdLib {
	if mapper == nil {
		mapper = pathmap.Identity{}
	}
	return &StdLib{
		version:       version,
		mapper:        mapper,
		isTaskContext: isTaskContext,
		writeDir:      writeDir,
		cache:         make(map[string]*vm.Program),
	}
}

// BindTaskFiles points stdout()/stderr() at the redirected files and sets
// the directory relative output paths resolve against.
func (s *StdLib) BindTaskFiles(stdoutPath, stderrPath, workDir string) {
	s.stdoutPath = stdoutPath
	s.stderrPath = stderrPath
	s.workDir = workDir
}

// Eval evaluates expression source against the given bindings environment,
// returning the native result.
func (s *StdLib) Eval(src string, bindings map[string]any) (any, error) {
	program, err := s.compile(src)
	if err != nil {
		return nil, &errors.EvalError{Expr: src, Message: "compile failed", Cause: err}
	}

	env := s.Env(bindings)
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, &errors.EvalError{Expr: src, Message: "evaluation failed", Cause: err}
	}
	return normalize(result), nil
}

// Env builds the evaluation environment: the function set overlaid with the
// caller's bindings.
func (s *StdLib) Env(bindings map[string]any) map[string]any {
	env := make(map[string]any, len(bindings)+16)
	for name, fn := range s.functions() {
		env[name] = fn
	}
	for k, v := range bindings {
		env[k] = v
	}
	return env
}

// compile compiles an expression and caches the result.
func (s *StdLib) compile(src string) (*vm.Program, error) {
	s.mu.RLock()
	if prog, ok := s.cache[src]; ok {
		s.mu.RUnlock()
		return prog, nil
	}
	s.mu.RUnlock()

	prog, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[src] = prog
	s.mu.Unlock()
	return prog, nil
}

// normalize widens expr-lang numeric results so downstream typed conversion
// sees a predictable set (int64/float64).
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// asString coerces a function argument that names a file.
func asString(v any, fn string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s expects a file path, got %T", fn, v)
	}
	return s, nil
}
