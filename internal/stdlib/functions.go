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

package stdlib

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tombee/flowy/internal/fsutil"
)

// functions returns the callable set exposed to expressions. Every function
// that produces or consumes a File goes through the path mapper.
func (s *StdLib) functions() map[string]any {
	fns := map[string]any{
		"read_string":  s.readString,
		"read_lines":   s.readLines,
		"read_int":     s.readInt,
		"read_float":   s.readFloat,
		"read_boolean": s.readBoolean,
		"read_json":    s.readJSON,
		"write_lines":  s.writeLines,
		"write_json":   s.writeJSON,
		"write_tsv":    s.writeTSV,
		"basename":     s.basename,
		"size":         s.size,
		"sep":          s.sep,
		"glob":         s.glob,
	}
	if s.isTaskContext {
		fns["stdout"] = s.stdout
		fns["stderr"] = s.stderr
	}
	return fns
}

// resolve maps a task-side path to the host and anchors relative paths at
// the task working directory.
func (s *StdLib) resolve(path string) string {
	host := s.mapper.TaskToHost(path)
	if !filepath.IsAbs(host) && s.workDir != "" {
		host = filepath.Join(s.workDir, host)
	}
	return host
}

func (s *StdLib) stdout() (string, error) {
	if s.stdoutPath == "" {
		return "", fmt.Errorf("stdout() is not available before the command has run")
	}
	return s.mapper.HostToTask(s.stdoutPath), nil
}

func (s *StdLib) stderr() (string, error) {
	if s.stderrPath == "" {
		return "", fmt.Errorf("stderr() is not available before the command has run")
	}
	return s.mapper.HostToTask(s.stderrPath), nil
}

func (s *StdLib) readString(path any) (string, error) {
	p, err := asString(path, "read_string")
	if err != nil {
		return "", err
	}
	content, err := fsutil.ReadFileToString(s.resolve(p))
	if err != nil {
		return "", err
	}
	// A single trailing newline is stripped, matching shell conventions.
	content = strings.TrimSuffix(content, "\n")
	return strings.TrimSuffix(content, "\r"), nil
}

func (s *StdLib) readLines(path any) ([]any, error) {
	p, err := asString(path, "read_lines")
	if err != nil {
		return nil, err
	}
	content, err := fsutil.ReadFileToString(s.resolve(p))
	if err != nil {
		return nil, err
	}
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return []any{}, nil
	}
	raw := strings.Split(content, "\n")
	lines := make([]any, len(raw))
	for i, line := range raw {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, nil
}

func (s *StdLib) readInt(path any) (int64, error) {
	text, err := s.readString(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("read_int: %q is not an integer", strings.TrimSpace(text))
	}
	return n, nil
}

func (s *StdLib) readFloat(path any) (float64, error) {
	text, err := s.readString(path)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("read_float: %q is not a number", strings.TrimSpace(text))
	}
	return f, nil
}

func (s *StdLib) readBoolean(path any) (bool, error) {
	text, err := s.readString(path)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("read_boolean: %q is not true or false", strings.TrimSpace(text))
}

func (s *StdLib) readJSON(path any) (any, error) {
	p, err := asString(path, "read_json")
	if err != nil {
		return nil, err
	}
	data, err := fsutil.ReadFileToBytes(s.resolve(p))
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("read_json: %w", err)
	}
	return out, nil
}

// writeScratch writes contents to a fresh file under the write_ scratch dir
// and returns its task-side path.
func (s *StdLib) writeScratch(stem string, contents []byte) (string, error) {
	if s.writeDir == "" {
		return "", fmt.Errorf("%s requires a write directory", stem)
	}
	name := fmt.Sprintf("%s_%d", stem, s.counter.next())
	path := filepath.Join(s.writeDir, name)
	if err := fsutil.WriteFileAtomic(path, contents); err != nil {
		return "", err
	}
	return s.mapper.HostToTask(path), nil
}

func (s *StdLib) writeLines(lines any) (string, error) {
	items, ok := lines.([]any)
	if !ok {
		return "", fmt.Errorf("write_lines expects an array, got %T", lines)
	}
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "%v\n", item)
	}
	return s.writeScratch("write_lines", []byte(sb.String()))
}

func (s *StdLib) writeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("write_json: %w", err)
	}
	return s.writeScratch("write_json", append(data, '\n'))
}

func (s *StdLib) writeTSV(rows any) (string, error) {
	items, ok := rows.([]any)
	if !ok {
		return "", fmt.Errorf("write_tsv expects an array of rows, got %T", rows)
	}
	var sb strings.Builder
	for _, raw := range items {
		row, ok := raw.([]any)
		if !ok {
			return "", fmt.Errorf("write_tsv row must be an array, got %T", raw)
		}
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprintf("%v", cell)
		}
		sb.WriteString(strings.Join(cells, "\t"))
		sb.WriteByte('\n')
	}
	return s.writeScratch("write_tsv", []byte(sb.String()))
}

func (s *StdLib) basename(args ...any) (string, error) {
	if len(args) == 0 || len(args) > 2 {
		return "", fmt.Errorf("basename takes one or two arguments, got %d", len(args))
	}
	p, err := asString(args[0], "basename")
	if err != nil {
		return "", err
	}
	base := filepath.Base(p)
	if len(args) == 2 {
		suffix, ok := args[1].(string)
		if !ok {
			return "", fmt.Errorf("basename suffix must be a string, got %T", args[1])
		}
		base = strings.TrimSuffix(base, suffix)
	}
	return base, nil
}

func (s *StdLib) size(path any) (float64, error) {
	p, err := asString(path, "size")
	if err != nil {
		return 0, err
	}
	n, err := fsutil.FileSize(s.resolve(p))
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

func (s *StdLib) sep(separator any, items any) (string, error) {
	sepStr, ok := separator.(string)
	if !ok {
		return "", fmt.Errorf("sep separator must be a string, got %T", separator)
	}
	arr, ok := items.([]any)
	if !ok {
		return "", fmt.Errorf("sep expects an array, got %T", items)
	}
	parts := make([]string, len(arr))
	for i, item := range arr {
		parts[i] = fmt.Sprintf("%v", item)
	}
	return strings.Join(parts, sepStr), nil
}

func (s *StdLib) glob(pattern any) ([]any, error) {
	p, err := asString(pattern, "glob")
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(s.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	sort.Strings(matches)
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = s.mapper.HostToTask(m)
	}
	return out, nil
}
