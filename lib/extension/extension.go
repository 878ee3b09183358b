// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package extension holds the user-defined extensions a generic
// worker service can host. An extension is created by a named factory
// with constructor arguments, is told about the target module once it
// is loaded, and answers numbered messages.
package extension

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// Extension is a live extension instance.
type Extension interface {
	// Loaded is called after the worker loads its target module.
	Loaded(ctx context.Context, module *target.Module) error

	// Dispatch answers one message. The result must be CBOR
	// serializable.
	Dispatch(ctx context.Context, message int, args []any) (any, error)

	// Close releases the extension. The worker calls it on exit.
	Close(ctx context.Context) error
}

// Factory creates an extension from constructor arguments.
type Factory func(args []any) (Extension, error)

// Registry maps extension type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice panics.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("extension: %q registered twice", name))
	}
	r.factories[name] = factory
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates an extension of the named type. An unknown type, a
// factory error, and a factory that returns nothing (including a
// typed nil pointer) are usage errors.
func (r *Registry) New(name string, args []any) (Extension, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, service.Usagef("no extension factory for type %q", name)
	}

	created, err := factory(args)
	if err != nil {
		return nil, service.Usagef("creating extension %q: %v", name, err)
	}
	if isNil(created) {
		return nil, service.Usagef("extension factory %q returned nothing", name)
	}
	return created, nil
}

func isNil(value Extension) bool {
	if value == nil {
		return true
	}
	switch reflected := reflect.ValueOf(value); reflected.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return reflected.IsNil()
	}
	return false
}

var defaultRegistry = func() *Registry {
	registry := NewRegistry()
	registry.Register(InspectType, NewInspect)
	return registry
}()

// Default returns the process-wide registry, which holds the built-in
// extensions.
func Default() *Registry { return defaultRegistry }
