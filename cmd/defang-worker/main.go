// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// defang-worker hosts one sandboxed service on a named channel. It is
// started by the new-process loader with three positional arguments:
//
//	defang-worker <service-type> <channel-name> <channel-uri>
//
// The service type is the ordinal of ipc.ServiceType. The worker
// listens on <runtime-dir>/<channel-name>.sock and exits when the
// client sends the exit action, when it receives SIGINT or SIGTERM, or
// when its parent dies.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/process"
	"github.com/bureau-foundation/defang/lib/version"
	"github.com/bureau-foundation/defang/lib/worker"
)

// debugEnv raises the log level to debug when set to any value.
const debugEnv = "DEFANG_DEBUG"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("defang-worker", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return process.Usagef("%v", err)
	}
	if *showVersion {
		fmt.Printf("defang-worker %s\n", version.Info())
		return nil
	}

	serviceType, identity, err := worker.ParseArgs(flagSet.Args())
	if err != nil {
		return process.Usagef("usage: defang-worker <service-type> <channel-name> <channel-uri>: %v", err)
	}

	if err := dieWithParent(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if os.Getenv(debugEnv) != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("pid", os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Debug("worker starting", "service", serviceType.String(), "identity", identity.String())
	return worker.Run(ctx, worker.Options{
		ServiceType: serviceType,
		Identity:    identity,
		Config:      cfg,
		Logger:      logger,
	})
}
