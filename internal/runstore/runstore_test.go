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

package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "flowy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	code := 0
	rec := Record{
		RunID:    "run123",
		Task:     "hello",
		Outcome:  "success",
		ExitCode: &code,
		Duration: 1500 * time.Millisecond,
		WorkDir:  "/tmp/run123/work/hello",
		Started:  time.Now(),
	}
	require.NoError(t, store.Record(ctx, rec))

	got, err := store.Get(ctx, "run123")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Task)
	assert.Equal(t, "success", got.Outcome)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
}

func TestRecordWithoutExitCode(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Record{
		RunID: "run_to", Task: "sleeper", Outcome: "timeout",
		Duration: time.Second, Started: time.Now(),
	}))

	got, err := store.Get(ctx, "run_to")
	require.NoError(t, err)
	assert.Nil(t, got.ExitCode)
	assert.Equal(t, "timeout", got.Outcome)
}

func TestList(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(ctx, Record{
			RunID: id, Task: "t", Outcome: "success",
			Duration: time.Second, Started: base.Add(time.Duration(i) * time.Second),
		}))
	}

	runs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
