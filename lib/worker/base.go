// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/modfile"
	"github.com/bureau-foundation/defang/lib/resolver"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// Service is a hosted capability set.
type Service interface {
	// Type is the service type the worker was created for.
	Type() ipc.ServiceType

	// Register installs the service's actions on server.
	Register(server *service.SocketServer)

	// Exited is closed once the exit action has run.
	Exited() <-chan struct{}

	// WaitExit blocks until the exit action has run or ctx ends.
	WaitExit(ctx context.Context) error

	// Close releases the service's runtime. The worker calls it after
	// the channel stops.
	Close(ctx context.Context) error
}

// base holds the state and actions every service type shares. Its
// fields are written once under mu and read by later requests.
type base struct {
	serviceType ipc.ServiceType
	logger      *slog.Logger
	runtime     *target.Runtime
	resolver    *resolver.Resolver[*target.Module]
	reader      *modfile.Reader
	options     target.Options

	mu     sync.Mutex
	module *target.Module

	// onExit runs once, before Exited is closed.
	onExit   func(ctx context.Context)
	exitOnce sync.Once
	exited   chan struct{}
}

func newBase(ctx context.Context, serviceType ipc.ServiceType, cfg *config.Config, logger *slog.Logger) (*base, error) {
	reader, err := modfile.NewReader(cfg.Samples.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("loading sample identities: %w", err)
	}

	options := target.Options{
		Engine:           target.EngineCompiler,
		MemoryLimitPages: cfg.Engine.MemoryLimitPages,
		CallTimeout:      cfg.Engine.CallLimit(),
		Logger:           logger,
	}
	runtime, err := target.NewRuntime(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("creating runtime: %w", err)
	}

	b := &base{
		serviceType: serviceType,
		logger:      logger,
		runtime:     runtime,
		reader:      reader,
		options:     options,
		exited:      make(chan struct{}),
	}
	b.resolver = resolver.New(func(ctx context.Context, path string) (*target.Module, error) {
		return runtime.LoadDependency(ctx, path, reader)
	}, logger)
	for _, dir := range cfg.Resolver.SearchPaths {
		b.resolver.AddSearchPath(dir)
	}
	runtime.SetDependencies(b.resolver.Resolve)
	return b, nil
}

func (b *base) Type() ipc.ServiceType { return b.serviceType }

func (b *base) Exited() <-chan struct{} { return b.exited }

func (b *base) WaitExit(ctx context.Context) error {
	select {
	case <-b.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *base) Close(ctx context.Context) error {
	return b.runtime.Close(ctx)
}

func (b *base) registerBase(server *service.SocketServer) {
	server.Handle(ipc.ActionDoNothing, b.handleDoNothing)
	server.Handle(ipc.ActionExit, b.handleExit)
}

func (b *base) handleDoNothing(context.Context, []byte) (any, error) {
	return nil, nil
}

func (b *base) handleExit(ctx context.Context, _ []byte) (any, error) {
	b.exitOnce.Do(func() {
		b.logger.Info("exit requested")
		if b.onExit != nil {
			b.onExit(ctx)
		}
		close(b.exited)
	})
	return nil, nil
}

// decodeLoad decodes a load-shaped request.
func decodeLoad(raw []byte) (string, error) {
	var request ipc.LoadRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return "", service.Usagef("invalid load request: %v", err)
	}
	if request.Path == "" {
		return "", service.Usagef("load request has no path")
	}
	return request.Path, nil
}

// load loads the target module exactly once. A second load is a usage
// error; a module that fails to decode is a malformed-target error.
// The module's directory, and any probing paths its config declares,
// become dependency search paths first so its imports can link.
func (b *base) load(ctx context.Context, path string) (*target.Module, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.module != nil {
		return nil, service.Usagef("a module is already loaded (%s)", b.module.Path())
	}

	b.resolver.AddModulePath(path)
	module, err := b.runtime.Load(ctx, path, b.reader)
	if err != nil {
		var format *target.FormatError
		if errors.As(err, &format) {
			return nil, &service.MalformedTargetError{
				Path:    format.Path,
				Hint:    format.Hint,
				Message: format.Err.Error(),
			}
		}
		return nil, err
	}
	b.resolver.Register(module)
	b.module = module

	b.logger.Info("module loaded",
		"module", module.FullName(),
		"path", path,
		"exports", len(module.Exports()),
	)
	return module, nil
}

// loaded returns the target module, or a usage error naming action
// when none has been loaded.
func (b *base) loaded(action string) (*target.Module, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.module == nil {
		return nil, service.Usagef("%s before load", action)
	}
	return b.module, nil
}
