// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package invoke

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// Strategy registers methods and invokes them in batches. Indices
// returned by Register are dense, start at zero, and are never reused.
type Strategy interface {
	// Register prepares method for invocation and returns its index.
	Register(method *target.Method) (int, error)

	// Invoke runs the method registered at index once per argument
	// array, in order. caller is the call site the arguments were
	// collected from, or nil. Any failing call fails the batch.
	Invoke(ctx context.Context, index int, calls [][]any, caller *target.Method) ([]ipc.WireString, error)

	// Close releases whatever the strategy built.
	Close(ctx context.Context) error
}

// New returns the strategy of the given kind for module.
func New(kind ipc.Strategy, module *target.Module, options target.Options, dependencies target.DependencyLookup) (Strategy, error) {
	switch kind {
	case ipc.StrategyDirect:
		return NewDirect(module), nil
	case ipc.StrategyEmulate:
		return NewEmulate(NewInterpreterEmulator(module, options, dependencies)), nil
	default:
		return nil, service.Usagef("unknown strategy %v", kind)
	}
}

// runBatch invokes callable for every argument array.
func runBatch(ctx context.Context, callable Callable, calls [][]any) ([]ipc.WireString, error) {
	results := make([]ipc.WireString, 0, len(calls))
	for i, args := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := callable(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("call site %d: %w", i, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func indexError(index, count int) error {
	return service.Usagef("no decrypter registered at index %d (%d registered)", index, count)
}
