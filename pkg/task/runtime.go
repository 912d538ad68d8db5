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

import (
	"fmt"
	"time"
)

// Runtime section keys recognized by the runtime. Unknown keys are carried
// through untouched for forward compatibility.
const (
	RuntimeCPU         = "cpu"
	RuntimeMemory      = "memory"
	RuntimeDisks       = "disks"
	RuntimeDocker      = "docker"
	RuntimeMaxRetries  = "maxRetries"
	RuntimeReturnCodes = "returnCodes"
	RuntimeTimeout     = "timeout"
)

// ReturnCodes is a task's accepted exit-code policy.
type ReturnCodes struct {
	// Any accepts every exit code ("*")
	Any bool

	// Codes is the accepted set when Any is false; empty means only 0
	Codes []int
}

// Accepts reports whether the policy admits the given exit code.
func (rc ReturnCodes) Accepts(code int) bool {
	if rc.Any {
		return true
	}
	if len(rc.Codes) == 0 {
		return code == 0
	}
	for _, c := range rc.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// ParseReturnCodes interprets an evaluated returnCodes runtime value:
// "*" accepts anything, a single integer accepts that code, a list accepts
// each member.
func ParseReturnCodes(v any) (ReturnCodes, error) {
	switch val := v.(type) {
	case nil:
		return ReturnCodes{}, nil
	case string:
		if val == "*" {
			return ReturnCodes{Any: true}, nil
		}
		return ReturnCodes{}, fmt.Errorf("returnCodes string must be %q, got %q", "*", val)
	case int:
		return ReturnCodes{Codes: []int{val}}, nil
	case int64:
		return ReturnCodes{Codes: []int{int(val)}}, nil
	case float64:
		return ReturnCodes{Codes: []int{int(val)}}, nil
	case []any:
		codes := make([]int, 0, len(val))
		for _, item := range val {
			switch n := item.(type) {
			case int:
				codes = append(codes, n)
			case int64:
				codes = append(codes, int(n))
			case float64:
				codes = append(codes, int(n))
			default:
				return ReturnCodes{}, fmt.Errorf("returnCodes entry must be an integer, got %T", item)
			}
		}
		return ReturnCodes{Codes: codes}, nil
	}
	return ReturnCodes{}, fmt.Errorf("returnCodes must be %q, an integer, or a list, got %T", "*", v)
}

// ParseTimeout interprets an evaluated timeout runtime value: an integer is
// seconds, a string is a Go duration ("90s", "5m").
func ParseTimeout(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(val) * time.Second, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid timeout %q: %w", val, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("timeout must be seconds or a duration string, got %T", v)
}
