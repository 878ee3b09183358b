// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"io"
	"log/slog"

	"github.com/bureau-foundation/defang/lib/clock"
	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/extension"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/loader"
	"github.com/bureau-foundation/defang/lib/namegen"
)

// Factory creates connected clients whose workers run under one
// isolation kind.
type Factory struct {
	Kind   loader.Kind
	Config *config.Config

	Logger     *slog.Logger
	Clock      clock.Clock
	Metrics    *Metrics
	Names      *namegen.Generator
	Extensions *extension.Registry

	// WorkerBinary and WorkerEnv are passed to new-process loaders.
	WorkerBinary string
	WorkerEnv    []string
	Stderr       io.Writer
}

// New returns an unconnected client for serviceType.
func (f *Factory) New(serviceType ipc.ServiceType) (*Client, error) {
	cfg := f.Config
	if cfg == nil {
		cfg = config.Default()
	}
	workerLoader, err := loader.New(f.Kind, loader.Options{
		ServiceType:  serviceType,
		Config:       cfg,
		Extensions:   f.Extensions,
		Logger:       f.Logger,
		Names:        f.Names,
		Clock:        f.Clock,
		WorkerBinary: f.WorkerBinary,
		WorkerEnv:    f.WorkerEnv,
		Stderr:       f.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return New(workerLoader, serviceType, Options{
		RuntimeDir: cfg.RuntimeDir,
		Timing:     cfg.Client.Timing(),
		Clock:      f.Clock,
		Logger:     f.Logger,
		Metrics:    f.Metrics,
	}), nil
}

// Connect creates a client for serviceType, starts its worker, and
// waits until it answers. On failure the worker is disposed.
func (f *Factory) Connect(ctx context.Context, serviceType ipc.ServiceType) (*Client, error) {
	c, err := f.New(serviceType)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		c.Dispose(ctx)
		return nil, err
	}
	if err := c.WaitConnected(ctx); err != nil {
		c.Dispose(ctx)
		return nil, err
	}
	return c, nil
}

func (f *Factory) StringDecrypter(ctx context.Context) (*StringDecrypter, error) {
	c, err := f.Connect(ctx, ipc.StringDecrypter)
	if err != nil {
		return nil, err
	}
	return &StringDecrypter{Client: c}, nil
}

func (f *Factory) MethodDecrypter(ctx context.Context) (*MethodDecrypter, error) {
	c, err := f.Connect(ctx, ipc.MethodDecrypter)
	if err != nil {
		return nil, err
	}
	return &MethodDecrypter{Client: c}, nil
}

func (f *Factory) Generic(ctx context.Context) (*Generic, error) {
	c, err := f.Connect(ctx, ipc.Generic)
	if err != nil {
		return nil, err
	}
	return &Generic{Client: c}, nil
}
