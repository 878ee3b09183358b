// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/extension"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/service"
)

// Options configures a worker.
type Options struct {
	ServiceType ipc.ServiceType
	Identity    ipc.Identity

	// Config supplies the runtime directory, engine limits, resolver
	// search paths, and sample identities. Nil means config.Default().
	Config *config.Config

	// Extensions is the registry a Generic service creates extensions
	// from. Nil means extension.Default().
	Extensions *extension.Registry

	Logger *slog.Logger

	// Ready, if set, is closed once the channel is listening.
	Ready chan<- struct{}
}

// New creates the service for serviceType.
func New(ctx context.Context, serviceType ipc.ServiceType, cfg *config.Config, extensions *extension.Registry, logger *slog.Logger) (Service, error) {
	if !serviceType.Valid() {
		return nil, fmt.Errorf("unknown service type %d", int(serviceType))
	}
	b, err := newBase(ctx, serviceType, cfg, logger)
	if err != nil {
		return nil, err
	}
	switch serviceType {
	case ipc.StringDecrypter:
		return &StringDecrypter{base: b}, nil
	case ipc.MethodDecrypter:
		return &MethodDecrypter{base: b}, nil
	default:
		return newGeneric(b, extensions), nil
	}
}

// Run hosts a service on the channel named by options.Identity until
// the exit action runs or ctx is cancelled. Requests in flight when
// exit runs are answered before Run returns.
func Run(ctx context.Context, options Options) error {
	if options.Identity.Name == "" || options.Identity.URI == "" {
		return errors.New("worker: channel identity is incomplete")
	}
	cfg := options.Config
	if cfg == nil {
		cfg = config.Default()
	}
	extensions := options.Extensions
	if extensions == nil {
		extensions = extension.Default()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", options.ServiceType.String(), "channel", options.Identity.Name)

	if err := cfg.EnsureRuntimeDir(); err != nil {
		return err
	}

	svc, err := New(ctx, options.ServiceType, cfg, extensions, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("closing service", "error", err)
		}
	}()

	server := service.NewSocketServer(cfg.RuntimeDir, options.Identity, logger)
	svc.Register(server)

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(serveCtx) }()

	if options.Ready != nil {
		select {
		case <-server.Ready():
			close(options.Ready)
		case err := <-serveDone:
			return err
		}
	}

	select {
	case <-svc.Exited():
		logger.Info("worker exiting")
	case <-ctx.Done():
		logger.Info("worker cancelled", "error", ctx.Err())
	case err := <-serveDone:
		return err
	}

	stopServing()
	return <-serveDone
}
