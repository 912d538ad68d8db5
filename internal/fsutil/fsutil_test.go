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

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowy/pkg/errors"
)

func TestCreateAndRemoveDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	require.NoError(t, CreateDirAll(dir))
	assert.DirExists(t, dir)

	// Idempotent on both sides.
	require.NoError(t, CreateDirAll(dir))
	require.NoError(t, RemoveDirAll(dir))
	assert.NoDirExists(t, dir)
	require.NoError(t, RemoveDirAll(dir))
}

func TestCopyFile(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "source.txt")
	dst := filepath.Join(tmp, "nested", "dest.txt")
	require.NoError(t, os.WriteFile(src, []byte("test content"), 0o644))

	n, err := CopyFile(src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	got, err := ReadFileToString(dst)
	require.NoError(t, err)
	assert.Equal(t, "test content", got)
}

func TestCopyFileMissingSource(t *testing.T) {
	tmp := t.TempDir()
	_, err := CopyFile(filepath.Join(tmp, "absent"), filepath.Join(tmp, "dst"))

	var fs *errors.FileSystemError
	require.True(t, errors.As(err, &fs))
	assert.Contains(t, fs.Path, "absent")
}

func TestSymlink(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src.txt")
	link := filepath.Join(tmp, "links", "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	require.NoError(t, Symlink(src, link))

	got, err := ReadFileToString(link)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestWriteFileAtomic(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "sub", "response.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	got, err := ReadFileToString(path)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	// Overwrite replaces content entirely, no temp file left behind.
	require.NoError(t, WriteFileAtomic(path, []byte("second")))
	got, err = ReadFileToString(path)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
	assert.NoFileExists(t, path+".tmp")
}

func TestPathIsWithin(t *testing.T) {
	tmp := t.TempDir()
	base := filepath.Join(tmp, "base")
	inside := filepath.Join(base, "inside")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, CreateDirAll(inside))
	require.NoError(t, CreateDirAll(outside))

	within, err := PathIsWithin(inside, base)
	require.NoError(t, err)
	assert.True(t, within)

	within, err = PathIsWithin(outside, base)
	require.NoError(t, err)
	assert.False(t, within)

	// Escape via .. resolves before the prefix check.
	within, err = PathIsWithin(filepath.Join(base, "..", "outside"), base)
	require.NoError(t, err)
	assert.False(t, within)

	// A path equal to the base is within it.
	within, err = PathIsWithin(base, base)
	require.NoError(t, err)
	assert.True(t, within)
}

func TestPathIsWithinSymlinkEscape(t *testing.T) {
	tmp := t.TempDir()
	base := filepath.Join(tmp, "base")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, CreateDirAll(base))
	require.NoError(t, CreateDirAll(outside))

	link := filepath.Join(base, "sneaky")
	require.NoError(t, os.Symlink(outside, link))

	within, err := PathIsWithin(link, base)
	require.NoError(t, err)
	assert.False(t, within)
}

func TestCreateTempDir(t *testing.T) {
	dir, err := CreateTempDir("flowy_test")
	require.NoError(t, err)
	defer RemoveDirAll(dir)

	assert.DirExists(t, dir)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "flowy_test_"))
}

func TestFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	size, err := FileSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestWorkflowDirectory(t *testing.T) {
	tmp := t.TempDir()

	dir, err := CreateWorkflowDirectory(tmp, "test_run")
	require.NoError(t, err)

	assert.DirExists(t, dir.Root)
	assert.DirExists(t, dir.Work)
	assert.DirExists(t, dir.Inputs)
	assert.DirExists(t, dir.Outputs)
	assert.DirExists(t, dir.Temp)
	assert.Equal(t, filepath.Join(tmp, "test_run"), dir.Root)

	source := filepath.Join(tmp, "source.txt")
	require.NoError(t, os.WriteFile(source, []byte("input content"), 0o644))

	staged, err := dir.StageInput(source, "input.txt", true)
	require.NoError(t, err)
	within, err := PathIsWithin(staged, dir.Inputs)
	require.NoError(t, err)
	assert.True(t, within)

	got, err := ReadFileToString(staged)
	require.NoError(t, err)
	assert.Equal(t, "input content", got)

	collected, err := dir.CollectOutput(source, "out.txt")
	require.NoError(t, err)
	assert.FileExists(t, collected)

	require.NoError(t, dir.Cleanup())
	assert.NoDirExists(t, dir.Root)
	require.NoError(t, dir.Cleanup())
}

func TestStageInputSymlink(t *testing.T) {
	tmp := t.TempDir()
	dir, err := CreateWorkflowDirectory(tmp, "run_sym")
	require.NoError(t, err)

	source := filepath.Join(tmp, "data.txt")
	require.NoError(t, os.WriteFile(source, []byte("abc"), 0o644))

	staged, err := dir.StageInput(source, "data.txt", false)
	require.NoError(t, err)

	info, err := os.Lstat(staged)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}
