// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"

	"github.com/bureau-foundation/defang/lib/ipc"
)

// IsolatedContextLoader runs the worker on a background goroutine with
// its own configuration copy and its own target runtime. The worker is
// detached from the cancellation of the context passed to Start; only
// Dispose stops it.
//
// Dispose joins the goroutine for loader.isolated_join_timeout. If it
// is still running, its context is cancelled, which closes the
// listener and aborts any routine in flight, and Dispose joins once
// more for the same bound. A goroutine that outlives both waits is
// logged and abandoned.
type IsolatedContextLoader struct {
	*inProcess
}

// NewIsolatedContext returns an isolated-context loader.
func NewIsolatedContext(options Options) *IsolatedContextLoader {
	return &IsolatedContextLoader{inProcess: newInProcess(options, IsolatedContext.String())}
}

func (l *IsolatedContextLoader) Start(ctx context.Context) (ipc.Identity, error) {
	isolated := *l.options.Config
	isolated.Resolver.SearchPaths = append([]string(nil), l.options.Config.Resolver.SearchPaths...)
	return l.start(context.WithoutCancel(ctx), &isolated)
}

func (l *IsolatedContextLoader) Dispose() {
	cancel, done, ok := l.claim()
	if !ok {
		return
	}
	join := l.options.Config.Loader.JoinTimeout()

	select {
	case <-done:
		cancel()
		l.logger.Debug("worker disposed")
		return
	case <-l.options.Clock.After(join):
	}

	l.logger.Debug("worker still running after join timeout, cancelling", "timeout", join)
	cancel()

	select {
	case <-done:
		l.logger.Debug("worker disposed after cancel")
	case <-l.options.Clock.After(join):
		l.logger.Warn("worker did not stop after cancel, abandoning it", "timeout", join)
	}
}
