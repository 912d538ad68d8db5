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

// Package config holds the validated runtime settings for task execution:
// concurrency and timeout limits, the work directory, staging policy, and
// the structured container/cache/resource sub-configs. Container and cache
// support is recognized in configuration but not implemented by this
// runtime; both default to disabled.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/flowy/pkg/errors"
)

// ContainerBackend names a container runtime.
type ContainerBackend string

const (
	BackendNone        ContainerBackend = "none"
	BackendDocker      ContainerBackend = "docker"
	BackendPodman      ContainerBackend = "podman"
	BackendSingularity ContainerBackend = "singularity"
)

// Config is the runtime configuration for task execution.
type Config struct {
	// MaxConcurrentTasks bounds how many tasks may execute at once.
	// Must be at least 1.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`

	// TaskTimeout is the default wall-clock limit per task, used when a
	// task's runtime section declares no timeout. Must be positive.
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`

	// WorkDir is the base directory for workflow run trees. A relative
	// path that does not exist is created during validation.
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// CopyInputFiles stages task file inputs by copy instead of symlink.
	// Copy is required when the host source may vanish before the task
	// finishes.
	CopyInputFiles bool `yaml:"copy_input_files" json:"copy_input_files"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug" json:"debug"`

	// Container configures container execution (recognized, not
	// implemented).
	Container ContainerConfig `yaml:"container" json:"container"`

	// Cache configures result caching (recognized, not implemented).
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// EnvVars are forwarded into every task subprocess environment.
	EnvVars map[string]string `yaml:"env_vars,omitempty" json:"env_vars,omitempty"`

	// Resources are advisory per-task limits, validated and passed
	// through without OS-level enforcement.
	Resources ResourceLimits `yaml:"resources" json:"resources"`
}

// ContainerConfig configures container execution.
type ContainerConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Backend ContainerBackend  `yaml:"backend" json:"backend"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// CacheConfig configures result caching.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Dir       string `yaml:"dir,omitempty" json:"dir,omitempty"`
	SizeLimit int64  `yaml:"size_limit,omitempty" json:"size_limit,omitempty"`
}

// ResourceLimits are per-task resource ceilings. Zero means unlimited.
type ResourceLimits struct {
	// MaxMemory is the memory ceiling in bytes
	MaxMemory int64 `yaml:"max_memory,omitempty" json:"max_memory,omitempty"`

	// MaxCPU is the CPU-core ceiling
	MaxCPU float64 `yaml:"max_cpu,omitempty" json:"max_cpu,omitempty"`

	// MaxDisk is the disk ceiling in bytes
	MaxDisk int64 `yaml:"max_disk,omitempty" json:"max_disk,omitempty"`

	// Network allows network access
	Network bool `yaml:"network" json:"network"`
}

// Default returns the configuration defaults: sequential execution, a one
// hour timeout, the current directory as work base, symlink staging.
func Default() Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return Config{
		MaxConcurrentTasks: 1,
		TaskTimeout:        time.Hour,
		WorkDir:            wd,
		Container:          ContainerConfig{Backend: BackendNone},
		Resources:          ResourceLimits{Network: true},
	}
}

// configDoc is the YAML file shape. Pointer fields distinguish "absent"
// from zero so the file overlays the defaults; durations accept either a Go
// duration string ("90s") or integer seconds.
type configDoc struct {
	MaxConcurrentTasks *int              `yaml:"max_concurrent_tasks"`
	TaskTimeout        string            `yaml:"task_timeout"`
	WorkDir            string            `yaml:"work_dir"`
	CopyInputFiles     *bool             `yaml:"copy_input_files"`
	Debug              *bool             `yaml:"debug"`
	Container          *ContainerConfig  `yaml:"container"`
	Cache              *CacheConfig      `yaml:"cache"`
	EnvVars            map[string]string `yaml:"env_vars"`
	Resources          *resourceDoc      `yaml:"resources"`
}

type resourceDoc struct {
	MaxMemory *int64   `yaml:"max_memory"`
	MaxCPU    *float64 `yaml:"max_cpu"`
	MaxDisk   *int64   `yaml:"max_disk"`
	Network   *bool    `yaml:"network"`
}

// Load reads configuration from a YAML file, overlaying the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &errors.ParseError{Source: path, Message: "cannot read config", Cause: err}
	}
	var doc configDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, &errors.ParseError{Source: path, Message: "malformed config", Cause: err}
	}

	if doc.MaxConcurrentTasks != nil {
		cfg.MaxConcurrentTasks = *doc.MaxConcurrentTasks
	}
	if doc.TaskTimeout != "" {
		d, err := parseDuration(doc.TaskTimeout)
		if err != nil {
			return Config{}, &errors.ParseError{Source: path, Message: fmt.Sprintf("task_timeout: %v", err)}
		}
		cfg.TaskTimeout = d
	}
	if doc.WorkDir != "" {
		cfg.WorkDir = doc.WorkDir
	}
	if doc.CopyInputFiles != nil {
		cfg.CopyInputFiles = *doc.CopyInputFiles
	}
	if doc.Debug != nil {
		cfg.Debug = *doc.Debug
	}
	if doc.Container != nil {
		cfg.Container = *doc.Container
		if cfg.Container.Backend == "" {
			cfg.Container.Backend = BackendNone
		}
	}
	if doc.Cache != nil {
		cfg.Cache = *doc.Cache
	}
	if doc.EnvVars != nil {
		cfg.EnvVars = doc.EnvVars
	}
	if doc.Resources != nil {
		if doc.Resources.MaxMemory != nil {
			cfg.Resources.MaxMemory = *doc.Resources.MaxMemory
		}
		if doc.Resources.MaxCPU != nil {
			cfg.Resources.MaxCPU = *doc.Resources.MaxCPU
		}
		if doc.Resources.MaxDisk != nil {
			cfg.Resources.MaxDisk = *doc.Resources.MaxDisk
		}
		if doc.Resources.Network != nil {
			cfg.Resources.Network = *doc.Resources.Network
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseDuration accepts a Go duration string or integer seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs) * time.Second, nil
}

// Validate checks the configuration and creates missing relative work and
// cache directories.
func (c *Config) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be greater than 0")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be greater than 0")
	}

	if !filepath.IsAbs(c.WorkDir) {
		if _, err := os.Stat(c.WorkDir); os.IsNotExist(err) {
			if err := os.MkdirAll(c.WorkDir, 0o755); err != nil {
				return fmt.Errorf("cannot create work directory %q: %w", c.WorkDir, err)
			}
		}
	}

	if c.Cache.Enabled && c.Cache.Dir != "" {
		if _, err := os.Stat(c.Cache.Dir); os.IsNotExist(err) {
			if err := os.MkdirAll(c.Cache.Dir, 0o755); err != nil {
				return fmt.Errorf("cannot create cache directory %q: %w", c.Cache.Dir, err)
			}
		}
	}
	return nil
}

// WithWorkDir sets the work directory.
func (c Config) WithWorkDir(dir string) Config {
	c.WorkDir = dir
	return c
}

// WithTaskTimeout sets the default task timeout.
func (c Config) WithTaskTimeout(d time.Duration) Config {
	c.TaskTimeout = d
	return c
}

// WithMaxConcurrentTasks sets the concurrency bound.
func (c Config) WithMaxConcurrentTasks(n int) Config {
	c.MaxConcurrentTasks = n
	return c
}

// WithCopyInputFiles sets the staging policy.
func (c Config) WithCopyInputFiles(copy bool) Config {
	c.CopyInputFiles = copy
	return c
}

// WithEnvVar adds one forwarded environment variable.
func (c Config) WithEnvVar(key, value string) Config {
	env := make(map[string]string, len(c.EnvVars)+1)
	for k, v := range c.EnvVars {
		env[k] = v
	}
	env[key] = value
	c.EnvVars = env
	return c
}

// WithContainerBackend selects a container backend; BackendNone disables
// container execution.
func (c Config) WithContainerBackend(backend ContainerBackend) Config {
	c.Container.Enabled = backend != BackendNone
	c.Container.Backend = backend
	return c
}

// Builder accumulates settings and validates on Build.
type Builder struct {
	cfg Config
}

// NewBuilder starts from the defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

// WorkDir sets the work directory.
func (b *Builder) WorkDir(dir string) *Builder {
	b.cfg.WorkDir = dir
	return b
}

// TaskTimeout sets the default task timeout.
func (b *Builder) TaskTimeout(d time.Duration) *Builder {
	b.cfg.TaskTimeout = d
	return b
}

// MaxConcurrentTasks sets the concurrency bound.
func (b *Builder) MaxConcurrentTasks(n int) *Builder {
	b.cfg.MaxConcurrentTasks = n
	return b
}

// CopyInputFiles sets the staging policy.
func (b *Builder) CopyInputFiles(copy bool) *Builder {
	b.cfg.CopyInputFiles = copy
	return b
}

// Debug toggles debug logging.
func (b *Builder) Debug(debug bool) *Builder {
	b.cfg.Debug = debug
	return b
}

// EnvVar adds one forwarded environment variable.
func (b *Builder) EnvVar(key, value string) *Builder {
	if b.cfg.EnvVars == nil {
		b.cfg.EnvVars = make(map[string]string)
	}
	b.cfg.EnvVars[key] = value
	return b
}

// MaxMemory sets the advisory memory ceiling in bytes.
func (b *Builder) MaxMemory(bytes int64) *Builder {
	b.cfg.Resources.MaxMemory = bytes
	return b
}

// MaxCPU sets the advisory CPU ceiling.
func (b *Builder) MaxCPU(cores float64) *Builder {
	b.cfg.Resources.MaxCPU = cores
	return b
}

// Build validates and returns the configuration.
func (b *Builder) Build() (Config, error) {
	if err := b.cfg.Validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}
