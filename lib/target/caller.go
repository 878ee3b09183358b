// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import "context"

type callerKey struct{}

// WithCaller returns a context carrying caller as the call site of the
// invocation made with it. Routines read it through the
// defang.caller_token import. A nil caller is absent.
func WithCaller(ctx context.Context, caller *Method) context.Context {
	if caller == nil {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller attached by WithCaller, or nil.
func CallerFrom(ctx context.Context) *Method {
	caller, _ := ctx.Value(callerKey{}).(*Method)
	return caller
}
