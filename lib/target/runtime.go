// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/bureau-foundation/defang/lib/modfile"
)

// HostModule is the import namespace of the functions the runtime
// provides to target modules.
const HostModule = "defang"

// InitializeExport is run once after instantiation when a module
// exports it, following the WASI reactor convention.
const InitializeExport = "_initialize"

// Engine selects how a runtime executes module code.
type Engine int

const (
	// EngineCompiler compiles functions to native code ahead of the
	// first call. Platforms without compiler support fall back to
	// the interpreter.
	EngineCompiler Engine = iota

	// EngineInterpreter executes the validated instruction stream
	// one operation at a time.
	EngineInterpreter
)

func (e Engine) String() string {
	switch e {
	case EngineCompiler:
		return "compiler"
	case EngineInterpreter:
		return "interpreter"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// Options configures a Runtime.
type Options struct {
	Engine Engine

	// MemoryLimitPages caps every instance's linear memory. Zero
	// means the wazero default (4GiB).
	MemoryLimitPages uint32

	// CallTimeout bounds each invocation made through Call. Zero
	// means unbounded.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// DependencyLookup resolves an imported module name to a compiled
// dependency. It reports false when the dependency cannot be found.
type DependencyLookup func(ctx context.Context, name string) (*Module, bool)

// Runtime hosts target modules.
type Runtime struct {
	engine      Engine
	runtime     wazero.Runtime
	callTimeout time.Duration
	logger      *slog.Logger

	mu           sync.Mutex
	dependencies DependencyLookup
	linking      map[string]bool
	hook         *BodyHook
}

// NewRuntime creates a runtime with WASI and the host module
// instantiated.
func NewRuntime(ctx context.Context, options Options) (*Runtime, error) {
	var config wazero.RuntimeConfig
	switch options.Engine {
	case EngineCompiler:
		config = wazero.NewRuntimeConfig()
	case EngineInterpreter:
		config = wazero.NewRuntimeConfigInterpreter()
	default:
		return nil, fmt.Errorf("unknown engine %v", options.Engine)
	}
	config = config.
		WithCloseOnContextDone(true).
		WithCustomSections(true)
	if options.MemoryLimitPages > 0 {
		config = config.WithMemoryLimitPages(options.MemoryLimitPages)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Runtime{
		engine:      options.Engine,
		runtime:     wazero.NewRuntimeWithConfig(ctx, config),
		callTimeout: options.CallTimeout,
		logger:      logger.With("engine", options.Engine.String()),
		linking:     make(map[string]bool),
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.runtime); err != nil {
		r.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating WASI: %w", err)
	}
	if err := r.instantiateHost(ctx); err != nil {
		r.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating host module: %w", err)
	}
	return r, nil
}

// Engine reports the engine the runtime was created with.
func (r *Runtime) Engine() Engine { return r.engine }

// Close releases every module instantiated in the runtime.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// SetDependencies installs the lookup used to link imports.
func (r *Runtime) SetDependencies(lookup DependencyLookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dependencies = lookup
}

// Compile decodes and validates data without instantiating it. Any
// failure is a *FormatError.
func (r *Runtime) Compile(ctx context.Context, name, path string, data []byte) (*Module, error) {
	compiled, err := r.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, &FormatError{Path: displayPath(name, path), Hint: Hint(data), Err: err}
	}
	return newModule(r, name, path, data, compiled), nil
}

// Load reads, compiles, and instantiates the module at path.
func (r *Runtime) Load(ctx context.Context, path string, reader *modfile.Reader) (*Module, error) {
	data, err := reader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module: %w", err)
	}
	return r.LoadBytes(ctx, SimpleName(path), path, data)
}

// LoadBytes compiles and instantiates an in-memory module. The
// instance is anonymous, so several targets with the same name may be
// loaded into one runtime.
func (r *Runtime) LoadBytes(ctx context.Context, name, path string, data []byte) (*Module, error) {
	module, err := r.Compile(ctx, name, path, data)
	if err != nil {
		return nil, err
	}
	instance, err := r.Instantiate(ctx, module, "")
	if err != nil {
		module.compiled.Close(ctx)
		return nil, err
	}
	module.instance = instance
	return module, nil
}

// LoadDependency reads and compiles a dependency. It is instantiated
// later, under the name a target imports it by.
func (r *Runtime) LoadDependency(ctx context.Context, path string, reader *modfile.Reader) (*Module, error) {
	data, err := reader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dependency: %w", err)
	}
	return r.Compile(ctx, SimpleName(path), path, data)
}

// Instantiate links module's imports and instantiates it as
// instanceName ("" for an anonymous instance). A module compiled by a
// different runtime is recompiled here first. The module's
// _initialize export runs before Instantiate returns.
func (r *Runtime) Instantiate(ctx context.Context, module *Module, instanceName string) (api.Module, error) {
	compiled := module.compiled
	if module.runtime != r {
		local, err := r.Compile(ctx, module.name, module.path, module.data)
		if err != nil {
			return nil, err
		}
		compiled = local.compiled
	}

	if err := r.link(ctx, module.imports); err != nil {
		return nil, fmt.Errorf("linking %s: %w", module.name, err)
	}

	config := wazero.NewModuleConfig().
		WithName(instanceName).
		WithStartFunctions()
	instance, err := r.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		return nil, fmt.Errorf("instantiating %s: %w", module.name, err)
	}

	if instance.ExportedFunction(InitializeExport) != nil {
		if _, err := r.Call(ctx, instance, InitializeExport); err != nil {
			instance.Close(ctx)
			return nil, fmt.Errorf("initializing %s: %w", module.name, err)
		}
	}

	r.logger.Debug("module instantiated",
		"module", module.name,
		"instance", instanceName,
		"exports", len(module.methods),
	)
	return instance, nil
}

// link ensures every named import module exists in the runtime.
// Unresolvable names are left for instantiation to report, with
// wazero's own message naming the missing import.
func (r *Runtime) link(ctx context.Context, imports []string) error {
	for _, name := range imports {
		if name == HostModule || name == wasi_snapshot_preview1.ModuleName {
			continue
		}
		if r.runtime.Module(name) != nil {
			continue
		}

		r.mu.Lock()
		lookup := r.dependencies
		cycle := r.linking[name]
		if !cycle {
			r.linking[name] = true
		}
		r.mu.Unlock()

		if cycle {
			return fmt.Errorf("dependency cycle through %q", name)
		}
		if lookup == nil {
			r.clearLinking(name)
			continue
		}

		dependency, found := lookup(ctx, name)
		if !found {
			r.clearLinking(name)
			r.logger.Debug("dependency not found", "import", name)
			continue
		}
		_, err := r.Instantiate(ctx, dependency, name)
		r.clearLinking(name)
		if err != nil {
			return fmt.Errorf("dependency %q: %w", name, err)
		}
	}
	return nil
}

func (r *Runtime) clearLinking(name string) {
	r.mu.Lock()
	delete(r.linking, name)
	r.mu.Unlock()
}

// ErrNoExport is returned by Call for a function the instance does not
// export.
var ErrNoExport = errors.New("function not exported")

// Call invokes an exported function under the runtime's call timeout.
// A call that outlives the timeout is aborted and its instance is
// closed; later calls into that instance fail.
func (r *Runtime) Call(ctx context.Context, instance api.Module, export string, params ...uint64) ([]uint64, error) {
	function := instance.ExportedFunction(export)
	if function == nil {
		return nil, fmt.Errorf("%s: %w", export, ErrNoExport)
	}
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	results, err := function.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", export, err)
	}
	return results, nil
}

func displayPath(name, path string) string {
	if path != "" {
		return path
	}
	return name
}
