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

// Package fsutil provides the filesystem primitives the task runtime is
// built on: atomic writes, staging by copy or symlink, path containment
// checks, and the per-run workflow directory layout.
package fsutil

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/flowy/pkg/errors"
)

// CreateDirAll creates a directory and all missing parents. Idempotent.
func CreateDirAll(path string) error {
	return errors.FS("create directory", path, os.MkdirAll(path, 0o755))
}

// RemoveDirAll removes a directory and all its contents. Succeeds when the
// path is already absent.
func RemoveDirAll(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return errors.FS("remove directory", path, os.RemoveAll(path))
}

// CopyFile copies src to dst, creating dst's parent directory if needed.
// Returns the number of bytes copied.
func CopyFile(src, dst string) (int64, error) {
	if err := CreateDirAll(filepath.Dir(dst)); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, errors.FS("open source file", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, errors.FS("create destination file", dst, err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, errors.FS("copy file", dst, err)
	}
	return n, nil
}

// Symlink creates a symbolic link at link pointing to target, creating
// link's parent directory if needed. On platforms or filesystems where
// symlinks are unavailable, falls back to copying.
func Symlink(target, link string) error {
	if err := CreateDirAll(filepath.Dir(link)); err != nil {
		return err
	}
	if err := os.Symlink(target, link); err != nil {
		// Fall back to a copy on filesystems without symlink support.
		if _, copyErr := CopyFile(target, link); copyErr != nil {
			return errors.FS("create symlink", link, err)
		}
	}
	return nil
}

// WriteFileAtomic writes contents to path via a temporary sibling and a
// rename, so a reader polling for path never observes partial content. The
// parent directory is created first.
func WriteFileAtomic(path string, contents []byte) error {
	if err := CreateDirAll(filepath.Dir(path)); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, contents, 0o644); err != nil {
		return errors.FS("write temporary file", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.FS("rename temporary file", path, err)
	}
	return nil
}

// ReadFileToString reads a file's contents as a string.
func ReadFileToString(path string) (string, error) {
	data, err := ReadFileToBytes(path)
	return string(data), err
}

// ReadFileToBytes reads a file's contents.
func ReadFileToBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FS("read file", path, err)
	}
	return data, nil
}

// FileSize returns a file's size in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.FS("stat file", path, err)
	}
	return info.Size(), nil
}

// PathIsWithin reports whether path is inside base after both are
// canonicalized with symlinks resolved. Used before staging user-supplied
// paths to prevent escape via ".." or symlink tricks.
func PathIsWithin(path, base string) (bool, error) {
	resolvedPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false, errors.FS("canonicalize path", path, err)
	}
	resolvedBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return false, errors.FS("canonicalize base path", base, err)
	}

	rel, err := filepath.Rel(resolvedBase, resolvedPath)
	if err != nil {
		return false, nil
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."), nil
}

// AbsolutePath returns the canonical absolute form of path.
func AbsolutePath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errors.FS("canonicalize path", path, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", errors.FS("resolve absolute path", path, err)
	}
	return abs, nil
}

// CreateTempDir creates a unique directory under the system temp dir named
// {prefix}_{unix_seconds}_{pid}_{rand8}. The random component is a
// non-cryptographic hash; the pid already disambiguates concurrent runners
// on the same host.
func CreateTempDir(prefix string) (string, error) {
	name := fmt.Sprintf("%s_%d_%d_%s", prefix, time.Now().Unix(), os.Getpid(), randString(8))
	dir := filepath.Join(os.TempDir(), name)
	if err := CreateDirAll(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// randString produces a short hex string derived from the current time and
// pid.
func randString(n int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d/%d", time.Now().UnixNano(), os.Getpid())
	s := fmt.Sprintf("%016x", h.Sum64())
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
