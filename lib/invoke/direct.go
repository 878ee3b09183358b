// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package invoke

import (
	"context"
	"sync"

	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/target"
)

// Direct calls registered methods natively inside the target's own
// instance. The callable is bound at registration; the caller argument
// of Invoke is ignored.
type Direct struct {
	module *target.Module

	mu        sync.RWMutex
	callables []Callable
}

// NewDirect returns a direct strategy over a loaded module.
func NewDirect(module *target.Module) *Direct {
	return &Direct{module: module}
}

func (d *Direct) Register(method *target.Method) (int, error) {
	callable, err := Bind(d.module.Runtime(), d.module.Instance(), method)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callables = append(d.callables, callable)
	return len(d.callables) - 1, nil
}

func (d *Direct) Invoke(ctx context.Context, index int, calls [][]any, _ *target.Method) ([]ipc.WireString, error) {
	d.mu.RLock()
	count := len(d.callables)
	var callable Callable
	if index >= 0 && index < count {
		callable = d.callables[index]
	}
	d.mu.RUnlock()
	if callable == nil {
		return nil, indexError(index, count)
	}
	return runBatch(ctx, callable, calls)
}

// Close is a no-op: the target instance belongs to the module.
func (d *Direct) Close(context.Context) error { return nil }
