// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package invoke

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/target"
)

// Emulator builds emulated forms of methods.
type Emulator interface {
	Build(ctx context.Context, method *target.Method) (EmulatedMethod, error)
	Close(ctx context.Context) error
}

// EmulatedMethod is a method rebuilt by an Emulator. The caller set
// through SetCaller applies to every following Call.
type EmulatedMethod interface {
	SetCaller(caller *target.Method)
	Call(ctx context.Context, args []any) (ipc.WireString, error)
}

// Emulate runs registered methods through an emulator. Each method is
// built the first time its index is invoked and reused afterwards.
type Emulate struct {
	emulator Emulator

	mu      sync.Mutex
	methods []*target.Method
	built   []EmulatedMethod
}

// NewEmulate returns an emulating strategy.
func NewEmulate(emulator Emulator) *Emulate {
	return &Emulate{emulator: emulator}
}

func (e *Emulate) Register(method *target.Method) (int, error) {
	if err := checkShape(method); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.methods = append(e.methods, method)
	e.built = append(e.built, nil)
	return len(e.methods) - 1, nil
}

// Invoke builds the method if needed, sets caller, and runs the batch.
// Invocations are serialized: the caller is state on the emulated
// method.
func (e *Emulate) Invoke(ctx context.Context, index int, calls [][]any, caller *target.Method) ([]ipc.WireString, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.methods) {
		return nil, indexError(index, len(e.methods))
	}
	emulated := e.built[index]
	if emulated == nil {
		var err error
		emulated, err = e.emulator.Build(ctx, e.methods[index])
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", e.methods[index], err)
		}
		e.built[index] = emulated
	}

	emulated.SetCaller(caller)
	return runBatch(ctx, emulated.Call, calls)
}

// Built reports whether the method at index has been built.
func (e *Emulate) Built(index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return index >= 0 && index < len(e.built) && e.built[index] != nil
}

func (e *Emulate) Close(ctx context.Context) error {
	return e.emulator.Close(ctx)
}

// InterpreterEmulator runs methods in a private interpreter runtime,
// instantiated from the target module's bytes on the first Build. The
// caller is passed to the routine through the caller_token import.
type InterpreterEmulator struct {
	module       *target.Module
	options      target.Options
	dependencies target.DependencyLookup

	mu       sync.Mutex
	runtime  *target.Runtime
	instance api.Module
}

// NewInterpreterEmulator returns an emulator for module. Dependencies
// the module imports are looked up through dependencies.
func NewInterpreterEmulator(module *target.Module, options target.Options, dependencies target.DependencyLookup) *InterpreterEmulator {
	options.Engine = target.EngineInterpreter
	return &InterpreterEmulator{module: module, options: options, dependencies: dependencies}
}

func (e *InterpreterEmulator) Build(ctx context.Context, method *target.Method) (EmulatedMethod, error) {
	if err := checkShape(method); err != nil {
		return nil, err
	}
	if method.Module() != e.module {
		return nil, fmt.Errorf("%s does not belong to %s", method, e.module.FullName())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance == nil {
		runtime, err := target.NewRuntime(ctx, e.options)
		if err != nil {
			return nil, err
		}
		runtime.SetDependencies(e.dependencies)
		instance, err := runtime.Instantiate(ctx, e.module, "")
		if err != nil {
			runtime.Close(ctx)
			return nil, err
		}
		e.runtime = runtime
		e.instance = instance
	}

	callable, err := Bind(e.runtime, e.instance, method)
	if err != nil {
		return nil, err
	}
	return &interpretedMethod{callable: callable}, nil
}

func (e *InterpreterEmulator) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	e.instance = nil
	return err
}

type interpretedMethod struct {
	callable Callable
	caller   *target.Method
}

func (m *interpretedMethod) SetCaller(caller *target.Method) { m.caller = caller }

func (m *interpretedMethod) Call(ctx context.Context, args []any) (ipc.WireString, error) {
	return m.callable(target.WithCaller(ctx, m.caller), args)
}
