// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package invoke

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// Callable runs one extracted routine on one argument array.
type Callable func(ctx context.Context, args []any) (ipc.WireString, error)

// checkShape rejects methods whose result is not string-like.
func checkShape(method *target.Method) error {
	if method == nil {
		return service.Usagef("no method to register")
	}
	if !method.StringLike() {
		return service.Usagef("method %#08x (%s%s) does not return a string",
			method.Token, method.Name, method.Signature())
	}
	return nil
}

// Bind returns a callable that runs method inside instance, which must
// be an instance of method's module in runtime. The arguments of each
// call are converted to the method's declared parameter types.
func Bind(runtime *target.Runtime, instance api.Module, method *target.Method) (Callable, error) {
	if err := checkShape(method); err != nil {
		return nil, err
	}
	if instance.ExportedFunction(method.Name) == nil {
		return nil, fmt.Errorf("instance %q does not export %s", instance.Name(), method.Name)
	}

	return func(ctx context.Context, args []any) (ipc.WireString, error) {
		params, err := lowerArgs(ctx, runtime, instance, method, args)
		if err != nil {
			return nil, err
		}
		results, err := runtime.Call(ctx, instance, method.Name, params...)
		if err != nil {
			return nil, err
		}
		units, err := target.ReadUnits(instance.Memory(), api.DecodeU32(results[0]), api.DecodeU32(results[1]))
		if err != nil {
			return nil, fmt.Errorf("reading result of %s: %w", method.Name, err)
		}
		return ipc.WireString(units), nil
	}, nil
}
