// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/defang/cmd/defang/cli"
	"github.com/bureau-foundation/defang/lib/client"
	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/loader"
	"github.com/bureau-foundation/defang/lib/process"
)

// app carries what every command shares.
type app struct {
	ctx    context.Context
	stdout io.Writer
	logger *slog.Logger
}

func newApp(ctx context.Context, stdout io.Writer) *app {
	return &app{ctx: ctx, stdout: stdout, logger: cli.NewLogger()}
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:    "defang",
		Summary: "Run extracted decryption routines in sandboxed workers",
		Description: `defang loads an untrusted target module into a sandboxed worker and
invokes its string or method-body decryption routines on request.

Workers run in the same process, in an isolated context, or as a
separate defang-worker process (--isolation). Configuration is read
from --config or $DEFANG_CONFIG.`,
		Subcommands: []*cli.Command{
			a.stringsCommand(),
			a.methodsCommand(),
			a.inspectCommand(),
			a.resolveCommand(),
			a.versionCommand(),
		},
	}
}

// configParams selects the configuration file.
type configParams struct {
	ConfigPath string `flag:"config,c" desc:"configuration file (default: $DEFANG_CONFIG, then built-in defaults)"`
}

func (p *configParams) load() (*config.Config, error) {
	if p.ConfigPath == "" {
		return config.Load()
	}
	cfg, err := config.LoadFile(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if runtimeDir := os.Getenv(config.RuntimeDirEnv); runtimeDir != "" {
		cfg.RuntimeDir = runtimeDir
	}
	return cfg, nil
}

// workerParams are the flags of every command that starts a worker.
type workerParams struct {
	cli.Output
	configParams
	Isolation   string `flag:"isolation" default:"new-process" desc:"worker isolation: same-context, isolated-context, or new-process"`
	MetricsFile string `flag:"metrics-file" desc:"write client metrics to this file in Prometheus text format on exit"`
}

// session owns the factory a command creates workers from, and the
// metrics registry behind it.
type session struct {
	factory     *client.Factory
	registry    *prometheus.Registry
	metricsFile string
	logger      *slog.Logger
}

func (a *app) openSession(params *workerParams) (*session, error) {
	kind, err := loader.ParseKind(params.Isolation)
	if err != nil {
		return nil, process.Usagef("%v", err)
	}
	cfg, err := params.load()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := client.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	factory := &client.Factory{
		Kind:    kind,
		Config:  cfg,
		Logger:  a.logger,
		Metrics: metrics,
		Stderr:  os.Stderr,
	}
	if kind == loader.NewProcess {
		binary, err := cfg.WorkerBinaryPath()
		if err != nil {
			return nil, err
		}
		factory.WorkerBinary = binary
		if params.ConfigPath != "" {
			absolute, err := filepath.Abs(params.ConfigPath)
			if err != nil {
				return nil, err
			}
			factory.WorkerEnv = append(factory.WorkerEnv, config.ConfigEnv+"="+absolute)
		}
		if os.Getenv(cli.DebugEnv) != "" {
			factory.WorkerEnv = append(factory.WorkerEnv, cli.DebugEnv+"=1")
		}
	}

	a.logger.Debug("session opened", "isolation", kind.String(), "runtime_dir", cfg.RuntimeDir)
	return &session{
		factory:     factory,
		registry:    registry,
		metricsFile: params.MetricsFile,
		logger:      a.logger,
	}, nil
}

// close writes the metrics file, if one was requested.
func (s *session) close() {
	if s.metricsFile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
		s.logger.Warn("writing metrics", "path", s.metricsFile, "error", err)
	}
}

// modulePath returns the absolute form of a module path taken from the
// command line.
func modulePath(args []string, command string) (string, error) {
	if len(args) != 1 {
		return "", process.Usagef("usage: defang %s <module> [flags]", command)
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", args[0], err)
	}
	return path, nil
}
