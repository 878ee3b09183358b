// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package loader starts workers under one of three isolation levels
// and tears them down again.
//
// Every loader draws its channel identity when it is created, so the
// identity is known before Start. Dispose never fails and may be
// called in any state: never started, starting, running, or already
// disposed.
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/defang/lib/clock"
	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/extension"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/namegen"
)

// WorkerLoader launches one worker and makes its service reachable at
// the loader's channel identity.
type WorkerLoader interface {
	// Identity is the channel the worker binds.
	Identity() ipc.Identity

	// Start launches the worker. It does not wait for the channel to
	// become reachable.
	Start(ctx context.Context) (ipc.Identity, error)

	// Dispose stops the worker, bounded by the loader's timeouts.
	Dispose()
}

// Kind selects an isolation level.
type Kind int

const (
	// SameContext runs the worker in the caller's context. For tests
	// and debugging; it isolates nothing.
	SameContext Kind = iota

	// IsolatedContext runs the worker on its own goroutine with its own
	// runtime, detached from the caller's cancellation.
	IsolatedContext

	// NewProcess runs the worker as a separate defang-worker process.
	NewProcess
)

func (k Kind) String() string {
	switch k {
	case SameContext:
		return "same-context"
	case IsolatedContext:
		return "isolated-context"
	case NewProcess:
		return "new-process"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind parses the names returned by Kind.String.
func ParseKind(name string) (Kind, error) {
	for _, kind := range []Kind{SameContext, IsolatedContext, NewProcess} {
		if kind.String() == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown isolation %q (want same-context, isolated-context, or new-process)", name)
}

// Options configures a loader.
type Options struct {
	ServiceType ipc.ServiceType

	// Config supplies the runtime directory and loader timeouts. Nil
	// means config.Default().
	Config *config.Config

	// Extensions is handed to in-process Generic workers. Nil means
	// extension.Default().
	Extensions *extension.Registry

	Logger *slog.Logger

	// Names draws the channel identity. Nil means namegen.Default().
	Names *namegen.Generator

	// Clock times the bounded waits in Dispose. Nil means clock.Real().
	Clock clock.Clock

	// WorkerBinary overrides the executable NewProcess spawns.
	WorkerBinary string

	// WorkerEnv is added to the worker process's environment.
	WorkerEnv []string

	// Stderr receives the worker process's stderr. Nil means os.Stderr.
	Stderr io.Writer
}

func (o Options) withDefaults() Options {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Extensions == nil {
		o.Extensions = extension.Default()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Names == nil {
		o.Names = namegen.Default()
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

// New returns a loader of the given kind.
func New(kind Kind, options Options) (WorkerLoader, error) {
	switch kind {
	case SameContext:
		return NewSameContext(options), nil
	case IsolatedContext:
		return NewIsolatedContext(options), nil
	case NewProcess:
		return NewProcessLoader(options), nil
	default:
		return nil, fmt.Errorf("unknown isolation kind %d", int(kind))
	}
}
