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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.False(t, cfg.AddSource)
}

func TestFromEnvDebug(t *testing.T) {
	t.Setenv("FLOWY_DEBUG", "1")
	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestFromEnvLevelPrecedence(t *testing.T) {
	t.Setenv("FLOWY_DEBUG", "")
	t.Setenv("FLOWY_LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL", "error")
	cfg := FromEnv()
	assert.Equal(t, "warn", cfg.Level)
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithRunContext(logger, "run42", "hello").Info("task started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "task started", entry["msg"])
	assert.Equal(t, "run42", entry[RunIDKey])
	assert.Equal(t, "hello", entry[TaskKey])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
