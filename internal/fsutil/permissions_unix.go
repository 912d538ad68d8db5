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

//go:build unix

package fsutil

import (
	"os"

	"github.com/tombee/flowy/pkg/errors"
)

// SetPermissions sets the file mode bits on path.
func SetPermissions(path string, mode os.FileMode) error {
	return errors.FS("set permissions", path, os.Chmod(path, mode))
}

// MakeExecutable marks path executable (mode 0755).
func MakeExecutable(path string) error {
	return SetPermissions(path, 0o755)
}
