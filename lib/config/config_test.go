// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}

	timing := cfg.Client.Timing()
	if timing.SettleDelay != time.Second {
		t.Errorf("settle delay = %v, want 1s", timing.SettleDelay)
	}
	if timing.ConnectTimeout != 2*time.Second {
		t.Errorf("connect timeout = %v, want 2s", timing.ConnectTimeout)
	}
	if timing.PollInterval != 20*time.Millisecond {
		t.Errorf("poll interval = %v, want 20ms", timing.PollInterval)
	}
	if cfg.Loader.JoinTimeout() != 100*time.Millisecond {
		t.Errorf("join timeout = %v, want 100ms", cfg.Loader.JoinTimeout())
	}
	if cfg.Loader.ExitTimeout() != 300*time.Millisecond {
		t.Errorf("exit timeout = %v, want 300ms", cfg.Loader.ExitTimeout())
	}
	if cfg.Engine.MemoryLimitPages != 2048 {
		t.Errorf("memory limit = %d pages, want 2048", cfg.Engine.MemoryLimitPages)
	}
}

func TestLoad_WithoutDefangConfigUsesDefaults(t *testing.T) {
	t.Setenv("DEFANG_CONFIG", "")
	t.Setenv(RuntimeDirEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Client.ConnectTimeout != "2s" {
		t.Errorf("connect_timeout = %q, want default 2s", cfg.Client.ConnectTimeout)
	}
}

func TestLoad_WithDefangConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "defang.yaml")

	configContent := `
runtime_dir: ${DEFANG_TEST_ROOT:-/fallback}/sockets
client:
  connect_timeout: 5s
engine:
  memory_limit_pages: 16
resolver:
  search_paths:
    - ${HOME}/deps
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("DEFANG_CONFIG", configPath)
	t.Setenv(RuntimeDirEnv, "")
	t.Setenv("DEFANG_TEST_ROOT", "/test/root")
	t.Setenv("HOME", "/home/analyst")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.RuntimeDir != "/test/root/sockets" {
		t.Errorf("runtime_dir = %q, want /test/root/sockets", cfg.RuntimeDir)
	}
	if cfg.Client.Timing().ConnectTimeout != 5*time.Second {
		t.Errorf("connect timeout = %v, want 5s", cfg.Client.Timing().ConnectTimeout)
	}
	// Omitted fields keep their defaults.
	if cfg.Client.Timing().PollInterval != 20*time.Millisecond {
		t.Errorf("poll interval = %v, want default 20ms", cfg.Client.Timing().PollInterval)
	}
	if cfg.Engine.MemoryLimitPages != 16 {
		t.Errorf("memory_limit_pages = %d, want 16", cfg.Engine.MemoryLimitPages)
	}
	if len(cfg.Resolver.SearchPaths) != 1 || cfg.Resolver.SearchPaths[0] != "/home/analyst/deps" {
		t.Errorf("search_paths = %v, want [/home/analyst/deps]", cfg.Resolver.SearchPaths)
	}
}

func TestLoad_RuntimeDirOverride(t *testing.T) {
	t.Setenv("DEFANG_CONFIG", "")
	t.Setenv(RuntimeDirEnv, "/run/defang-child")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.RuntimeDir != "/run/defang-child" {
		t.Errorf("runtime_dir = %q, want the %s override", cfg.RuntimeDir, RuntimeDirEnv)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unparseable duration",
			mutate:  func(c *Config) { c.Client.SettleDelay = "soon" },
			wantErr: "client.settle_delay",
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.Loader.ProcessExitTimeout = "-1s" },
			wantErr: "loader.process_exit_timeout must not be negative",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.Client.ConnectTimeout = "0s" },
			wantErr: "client.connect_timeout must be positive",
		},
		{
			name:    "memory limit out of range",
			mutate:  func(c *Config) { c.Engine.MemoryLimitPages = 0 },
			wantErr: "engine.memory_limit_pages",
		},
		{
			name:    "empty runtime dir",
			mutate:  func(c *Config) { c.RuntimeDir = "" },
			wantErr: "runtime_dir is required",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not mention %q", err, test.wantErr)
			}
		})
	}
}

func TestWorkerBinaryPath_Explicit(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "custom-worker")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("writing binary: %v", err)
	}

	cfg := Default()
	cfg.Worker.Binary = binary
	path, err := cfg.WorkerBinaryPath()
	if err != nil {
		t.Fatalf("WorkerBinaryPath: %v", err)
	}
	if path != binary {
		t.Errorf("path = %q, want %q", path, binary)
	}

	cfg.Worker.Binary = binary + ".missing"
	if _, err := cfg.WorkerBinaryPath(); err == nil {
		t.Error("expected error for a missing explicit binary")
	}
}
