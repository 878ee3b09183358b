// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"

	"github.com/bureau-foundation/defang/lib/ipc"
)

// SameContextLoader runs the worker in the caller's context: it shares
// the caller's configuration and is cancelled with the context passed
// to Start. Dispose waits for the worker without a bound.
type SameContextLoader struct {
	*inProcess
}

// NewSameContext returns a same-context loader.
func NewSameContext(options Options) *SameContextLoader {
	return &SameContextLoader{inProcess: newInProcess(options, SameContext.String())}
}

func (l *SameContextLoader) Start(ctx context.Context) (ipc.Identity, error) {
	return l.start(ctx, l.options.Config)
}

func (l *SameContextLoader) Dispose() {
	cancel, done, ok := l.claim()
	if !ok {
		return
	}
	cancel()
	<-done
	l.logger.Debug("worker disposed")
}
