// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// defang runs extracted decryption routines from untrusted target
// modules inside sandboxed workers and prints what they recover.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/defang/lib/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newApp(ctx, os.Stdout).root().Execute(os.Args[1:])
	stop()
	if err != nil {
		process.Fatal(err)
	}
}
