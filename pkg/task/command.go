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

package task

import "fmt"

// CommandPart is one fragment of a command template: either literal shell
// text or an expression to interpolate. Exactly one field is set.
type CommandPart struct {
	Literal string `json:"literal,omitempty"`
	Expr    string `json:"expr,omitempty"`
}

// Command is the ordered fragment list of a task's command template.
type Command []CommandPart

// ParseCommand splits template text into literal and ${...} expression
// fragments. Placeholder bodies may contain nested braces (e.g. map
// literals); a "${" without a closing brace, or an empty "${}", is an error
// so malformed templates fail at parse time rather than inside the shell. A
// "$" not followed by "{" passes through as literal text.
func ParseCommand(text string) (Command, error) {
	var parts Command
	literal := make([]byte, 0, len(text))

	for i := 0; i < len(text); {
		if text[i] == '$' && i+1 < len(text) && text[i+1] == '{' {
			body, end, err := scanPlaceholder(text, i+2)
			if err != nil {
				return nil, err
			}
			if len(literal) > 0 {
				parts = append(parts, CommandPart{Literal: string(literal)})
				literal = literal[:0]
			}
			parts = append(parts, CommandPart{Expr: body})
			i = end
			continue
		}
		literal = append(literal, text[i])
		i++
	}
	if len(literal) > 0 {
		parts = append(parts, CommandPart{Literal: string(literal)})
	}
	return parts, nil
}

// scanPlaceholder reads a brace-balanced expression body starting at start
// (just past "${"), returning the body and the index after the closing
// brace.
func scanPlaceholder(text string, start int) (string, int, error) {
	depth := 1
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				body := text[start:i]
				if body == "" {
					return "", 0, fmt.Errorf("empty placeholder at offset %d", start-2)
				}
				return body, i + 1, nil
			}
		}
	}
	return "", 0, fmt.Errorf("unterminated placeholder at offset %d", start-2)
}

// Source reconstructs the template text from the fragment list.
func (c Command) Source() string {
	var out []byte
	for _, part := range c {
		if part.Expr != "" {
			out = append(out, "${"...)
			out = append(out, part.Expr...)
			out = append(out, '}')
		} else {
			out = append(out, part.Literal...)
		}
	}
	return string(out)
}
