// internal/config/config.go
//
// This package handles configuration and the .taskgate directory structure.
// Every project that uses taskgate gets a .taskgate/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".taskgate"

	defaultLockTimeout = 10 * time.Second
	defaultRetryDelay  = 25 * time.Millisecond
	defaultServerAddr  = "127.0.0.1:7420"
)

const defaultProjectConfigYAML = `# taskgate project configuration
version: 1

store:
  # How long a call waits for a task lock before failing with lock_timeout.
  lock_timeout: 10s
  retry_delay: 25ms

tools:
  # Path to a YAML tool catalogue, relative to the project root.
  # Leave empty to use the built-in plan/develop/review/test/finalize tools.
  catalogue: ""

server:
  addr: 127.0.0.1:7420
`

// StoreConfig tunes the lock-protected record store.
type StoreConfig struct {
	LockTimeout string `yaml:"lock_timeout"`
	RetryDelay  string `yaml:"retry_delay"`
}

// ToolsConfig selects the tool catalogue.
type ToolsConfig struct {
	Catalogue string `yaml:"catalogue"`
}

// ServerConfig configures `taskgate serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ProjectConfig models .taskgate/config.yaml.
type ProjectConfig struct {
	Version int          `yaml:"version"`
	Store   StoreConfig  `yaml:"store"`
	Tools   ToolsConfig  `yaml:"tools"`
	Server  ServerConfig `yaml:"server"`
}

// Config holds the runtime configuration for taskgate.
type Config struct {
	// ProjectDir is the directory where the user ran `taskgate` from
	ProjectDir string

	// TaskgateDir is ProjectDir/.taskgate
	TaskgateDir string

	Project ProjectConfig

	lockTimeout time.Duration
	retryDelay  time.Duration
}

// InitDir creates the .taskgate directory structure in the given project
// directory.
//
// Structure created:
// .taskgate/
// ├── config.yaml
// ├── logs/         <- process log
// └── tasks/        <- one working directory per task
//
//	└── <task-id>/
//	    ├── task.yaml, task.lock
//	    ├── record.json, record.lock
//	    ├── activity.log
//	    └── archive/
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "tasks"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// Load reads .taskgate/config.yaml, falling back to defaults when it is
// missing.
func Load(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", projectDir, err)
	}
	cfg := &Config{
		ProjectDir:  abs,
		TaskgateDir: filepath.Join(abs, Dir),
		Project:     defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.TaskgateDir, "logs")
}

// TasksDir returns the root of the per-task working directories
func (c *Config) TasksDir() string {
	return filepath.Join(c.TaskgateDir, "tasks")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.TaskgateDir, "config.yaml")
}

// CataloguePath returns the configured catalogue path, or "" for the
// built-in catalogue.
func (c *Config) CataloguePath() string {
	return c.Project.Tools.Catalogue
}

// LockTimeout bounds how long a call waits for a task lock.
func (c *Config) LockTimeout() time.Duration {
	return c.lockTimeout
}

// RetryDelay is the lock polling interval.
func (c *Config) RetryDelay() time.Duration {
	return c.retryDelay
}

// ServerAddr is the listen address for the HTTP API.
func (c *Config) ServerAddr() string {
	return c.Project.Server.Addr
}

// Apply normalizes and validates the project config after callers changed
// fields directly (for example from flags or environment variables).
func (c *Config) Apply() error {
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.lockTimeout, _ = time.ParseDuration(c.Project.Store.LockTimeout)
	c.retryDelay, _ = time.ParseDuration(c.Project.Store.RetryDelay)
	return nil
}

// Save persists the project config back to .taskgate/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	if err := c.Apply(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.TaskgateDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure taskgate dir: %w", err)
	}
	project := c.Project
	if rel, err := filepath.Rel(c.ProjectDir, project.Tools.Catalogue); err == nil && project.Tools.Catalogue != "" && !strings.HasPrefix(rel, "..") {
		project.Tools.Catalogue = rel
	}
	data, err := yaml.Marshal(project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.Apply()
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Project = parsed
	return c.Apply()
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Store: StoreConfig{
			LockTimeout: defaultLockTimeout.String(),
			RetryDelay:  defaultRetryDelay.String(),
		},
		Server: ServerConfig{Addr: defaultServerAddr},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Store.LockTimeout) == "" {
		pc.Store.LockTimeout = defaultLockTimeout.String()
	}
	if strings.TrimSpace(pc.Store.RetryDelay) == "" {
		pc.Store.RetryDelay = defaultRetryDelay.String()
	}
	if strings.TrimSpace(pc.Server.Addr) == "" {
		pc.Server.Addr = defaultServerAddr
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Store.LockTimeout = strings.TrimSpace(pc.Store.LockTimeout)
	pc.Store.RetryDelay = strings.TrimSpace(pc.Store.RetryDelay)
	pc.Server.Addr = strings.TrimSpace(pc.Server.Addr)
	pc.Tools.Catalogue = resolvePath(base, pc.Tools.Catalogue)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	timeout, err := time.ParseDuration(pc.Store.LockTimeout)
	if err != nil {
		return fmt.Errorf("store.lock_timeout: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("store.lock_timeout must be positive")
	}
	delay, err := time.ParseDuration(pc.Store.RetryDelay)
	if err != nil {
		return fmt.Errorf("store.retry_delay: %w", err)
	}
	if delay <= 0 || delay > timeout {
		return fmt.Errorf("store.retry_delay must be positive and no longer than store.lock_timeout")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
