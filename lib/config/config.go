// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerBinaryName is the executable the new-process loader spawns.
const WorkerBinaryName = "defang-worker"

// Environment variables read by Load.
const (
	// ConfigEnv names the configuration file.
	ConfigEnv = "DEFANG_CONFIG"

	// RuntimeDirEnv overrides runtime_dir. The new-process loader sets
	// it so a worker binds its channel where the client looks.
	RuntimeDirEnv = "DEFANG_RUNTIME_DIR"
)

// Config is the master configuration for defang.
type Config struct {
	// RuntimeDir holds the worker channel sockets.
	// Default: ${XDG_RUNTIME_DIR}/defang, or /tmp/defang-<uid>.
	RuntimeDir string `yaml:"runtime_dir"`

	Worker   WorkerConfig   `yaml:"worker"`
	Client   ClientConfig   `yaml:"client"`
	Loader   LoaderConfig   `yaml:"loader"`
	Engine   EngineConfig   `yaml:"engine"`
	Resolver ResolverConfig `yaml:"resolver"`
	Samples  SamplesConfig  `yaml:"samples"`
}

// WorkerConfig configures the worker executable.
type WorkerConfig struct {
	// Binary is the path to defang-worker. Empty means look next to
	// the running executable, then in PATH.
	Binary string `yaml:"binary"`
}

// ClientConfig configures the connection lifecycle.
type ClientConfig struct {
	// SettleDelay is the minimum time between starting a worker and
	// the first reachability probe. Default: 1s
	SettleDelay string `yaml:"settle_delay"`

	// ConnectTimeout bounds the whole connect phase, measured from
	// the start timestamp. Default: 2s
	ConnectTimeout string `yaml:"connect_timeout"`

	// PollInterval is the sleep between probes. Default: 20ms
	PollInterval string `yaml:"poll_interval"`
}

// LoaderConfig configures worker teardown.
type LoaderConfig struct {
	// IsolatedJoinTimeout bounds how long dispose waits for an
	// isolated-context worker before cancelling it. Default: 100ms
	IsolatedJoinTimeout string `yaml:"isolated_join_timeout"`

	// ProcessExitTimeout bounds how long dispose waits for a worker
	// process to exit on its own before killing it. Default: 300ms
	ProcessExitTimeout string `yaml:"process_exit_timeout"`
}

// EngineConfig configures the WebAssembly runtime that hosts target
// modules.
type EngineConfig struct {
	// MemoryLimitPages caps each target instance's linear memory in
	// 64KiB pages. Default: 2048 (128MiB)
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// CallTimeout bounds a single routine invocation. A routine that
	// runs longer is aborted. Zero disables the bound. Default: 30s
	CallTimeout string `yaml:"call_timeout"`
}

// ResolverConfig configures dependency resolution.
type ResolverConfig struct {
	// SearchPaths are directories probed for dependency modules in
	// addition to the directory of each loaded target.
	SearchPaths []string `yaml:"search_paths"`
}

// SamplesConfig configures reading of protected sample files.
type SamplesConfig struct {
	// IdentityFile holds age identities used to open .wasm.age
	// samples.
	IdentityFile string `yaml:"identity_file"`
}

// Timing is the parsed form of ClientConfig.
type Timing struct {
	SettleDelay    time.Duration
	ConnectTimeout time.Duration
	PollInterval   time.Duration
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		RuntimeDir: defaultRuntimeDir(),
		Client: ClientConfig{
			SettleDelay:    "1s",
			ConnectTimeout: "2s",
			PollInterval:   "20ms",
		},
		Loader: LoaderConfig{
			IsolatedJoinTimeout: "100ms",
			ProcessExitTimeout:  "300ms",
		},
		Engine: EngineConfig{
			MemoryLimitPages: 2048,
			CallTimeout:      "30s",
		},
	}
}

func defaultRuntimeDir() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "defang")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("defang-%d", os.Getuid()))
}

// Load loads configuration from the file named by DEFANG_CONFIG, or
// starts from [Default] when the variable is unset. DEFANG_RUNTIME_DIR,
// when set, replaces runtime_dir.
func Load() (*Config, error) {
	cfg := Default()
	if configPath := os.Getenv(ConfigEnv); configPath != "" {
		loaded, err := LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if runtimeDir := os.Getenv(RuntimeDirEnv); runtimeDir != "" {
		cfg.RuntimeDir = runtimeDir
	}
	return cfg, cfg.Validate()
}

// LoadFile loads configuration from a specific file path. Fields the
// file omits keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":            os.Getenv("HOME"),
		"XDG_RUNTIME_DIR": os.Getenv("XDG_RUNTIME_DIR"),
	}

	c.RuntimeDir = expandVars(c.RuntimeDir, vars)
	c.Worker.Binary = expandVars(c.Worker.Binary, vars)
	c.Samples.IdentityFile = expandVars(c.Samples.IdentityFile, vars)
	for i, searchPath := range c.Resolver.SearchPaths {
		c.Resolver.SearchPaths[i] = expandVars(searchPath, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.RuntimeDir == "" {
		errs = append(errs, fmt.Errorf("runtime_dir is required"))
	}

	durations := []struct {
		field string
		value string
	}{
		{"client.settle_delay", c.Client.SettleDelay},
		{"client.connect_timeout", c.Client.ConnectTimeout},
		{"client.poll_interval", c.Client.PollInterval},
		{"loader.isolated_join_timeout", c.Loader.IsolatedJoinTimeout},
		{"loader.process_exit_timeout", c.Loader.ProcessExitTimeout},
		{"engine.call_timeout", c.Engine.CallTimeout},
	}
	for _, duration := range durations {
		parsed, err := time.ParseDuration(duration.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", duration.field, err))
			continue
		}
		if parsed < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", duration.field))
		}
	}

	if timeout, err := time.ParseDuration(c.Client.ConnectTimeout); err == nil && timeout == 0 {
		errs = append(errs, fmt.Errorf("client.connect_timeout must be positive"))
	}
	if interval, err := time.ParseDuration(c.Client.PollInterval); err == nil && interval == 0 {
		errs = append(errs, fmt.Errorf("client.poll_interval must be positive"))
	}

	if c.Engine.MemoryLimitPages == 0 || c.Engine.MemoryLimitPages > 65536 {
		errs = append(errs, fmt.Errorf("engine.memory_limit_pages must be between 1 and 65536"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Timing returns the parsed connection timings. Call after Validate.
func (c ClientConfig) Timing() Timing {
	return Timing{
		SettleDelay:    mustDuration(c.SettleDelay),
		ConnectTimeout: mustDuration(c.ConnectTimeout),
		PollInterval:   mustDuration(c.PollInterval),
	}
}

// JoinTimeout returns the parsed isolated-context join bound.
func (c LoaderConfig) JoinTimeout() time.Duration {
	return mustDuration(c.IsolatedJoinTimeout)
}

// ExitTimeout returns the parsed process exit bound.
func (c LoaderConfig) ExitTimeout() time.Duration {
	return mustDuration(c.ProcessExitTimeout)
}

// CallLimit returns the parsed per-call bound. Zero means unbounded.
func (c EngineConfig) CallLimit() time.Duration {
	return mustDuration(c.CallTimeout)
}

// mustDuration parses a duration Validate has already accepted. An
// unvalidated bad value reads as zero.
func mustDuration(value string) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}

// EnsureRuntimeDir creates the socket directory, owner-only.
func (c *Config) EnsureRuntimeDir() error {
	if err := os.MkdirAll(c.RuntimeDir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", c.RuntimeDir, err)
	}
	return nil
}

// WorkerBinaryPath returns the full path to the worker executable.
// An explicit worker.binary wins. Otherwise it looks next to the
// running executable, then falls back to exec.LookPath.
func (c *Config) WorkerBinaryPath() (string, error) {
	if c.Worker.Binary != "" {
		if _, err := os.Stat(c.Worker.Binary); err != nil {
			return "", fmt.Errorf("worker.binary: %w", err)
		}
		return c.Worker.Binary, nil
	}

	if executable, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(executable), WorkerBinaryName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath(WorkerBinaryName)
	if err != nil {
		return "", fmt.Errorf("%s not found next to the executable or in PATH", WorkerBinaryName)
	}
	return path, nil
}
