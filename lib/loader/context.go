// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/worker"
)

// ErrStarted is returned by Start on a loader that was already started.
var ErrStarted = errors.New("loader already started")

// inProcess runs worker.Run on a goroutine. The two in-process
// loaders differ in how the goroutine's context is derived and in how
// Dispose waits for it.
type inProcess struct {
	options  Options
	identity ipc.Identity
	logger   *slog.Logger

	// workerLogger omits the channel attribute, which worker.Run adds.
	workerLogger *slog.Logger

	mu       sync.Mutex
	started  bool
	disposed bool
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

func newInProcess(options Options, isolation string) *inProcess {
	options = options.withDefaults()
	identity := options.Names.Identity()
	workerLogger := options.Logger.With("isolation", isolation)
	return &inProcess{
		options:      options,
		identity:     identity,
		logger:       workerLogger.With("channel", identity.Name),
		workerLogger: workerLogger,
	}
}

func (p *inProcess) Identity() ipc.Identity { return p.identity }

func (p *inProcess) start(ctx context.Context, cfg *config.Config) (ipc.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.disposed {
		return ipc.Identity{}, ErrStarted
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		defer func() {
			// A panic in target handling ends this worker, not the
			// process hosting it.
			if recovered := recover(); recovered != nil {
				p.setErr(fmt.Errorf("worker panicked: %v", recovered))
				p.logger.Error("worker panicked", "panic", recovered, "stack", string(debug.Stack()))
			}
		}()
		err := worker.Run(runCtx, worker.Options{
			ServiceType: p.options.ServiceType,
			Identity:    p.identity,
			Config:      cfg,
			Extensions:  p.options.Extensions,
			Logger:      p.workerLogger,
		})
		if err != nil {
			p.setErr(err)
			p.logger.Error("worker stopped", "error", err)
		}
	}()

	p.logger.Info("worker started", "service", p.options.ServiceType.String())
	return p.identity, nil
}

func (p *inProcess) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Err returns why the worker stopped, if it failed.
func (p *inProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// claim marks the loader disposed and reports what, if anything,
// needs stopping.
func (p *inProcess) claim() (cancel context.CancelFunc, done chan struct{}, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil, nil, false
	}
	p.disposed = true
	if !p.started {
		return nil, nil, false
	}
	return p.cancel, p.done, true
}
