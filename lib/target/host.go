// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// instantiateHost provides the "defang" import namespace:
//
//	caller_token() -> i32
//	    token of the call site the current invocation was made for,
//	    or 0 when there is none
//	register_body_decrypter(name_ptr i32, name_len i32)
//	    report the export that decrypts method bodies; recorded only
//	    when a body hook is installed
func (r *Runtime) instantiateHost(ctx context.Context) error {
	_, err := r.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(callerToken), nil, []api.ValueType{api.ValueTypeI32}).
		Export("caller_token").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.registerBodyDecrypter),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithParameterNames("name_ptr", "name_len").
		Export("register_body_decrypter").
		Instantiate(ctx)
	return err
}

func callerToken(ctx context.Context, _ api.Module, stack []uint64) {
	var token uint32
	if caller := CallerFrom(ctx); caller != nil {
		token = caller.Token
	}
	stack[0] = api.EncodeU32(token)
}

func (r *Runtime) registerBodyDecrypter(ctx context.Context, module api.Module, stack []uint64) {
	pointer := api.DecodeU32(stack[0])
	length := api.DecodeU32(stack[1])
	name, err := ReadBytes(module.Memory(), pointer, length)
	if err != nil {
		// Panics in host functions surface as a trap in the caller.
		panic(fmt.Errorf("register_body_decrypter: %w", err))
	}

	r.mu.Lock()
	hook := r.hook
	r.mu.Unlock()

	if hook == nil {
		r.logger.Debug("body decrypter registration ignored, no hook installed",
			"module", module.Name(),
			"export", string(name),
		)
		return
	}
	hook.register(module, string(name))
	r.logger.Info("body decrypter registered", "export", string(name))
}
