// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/extension"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/service"
)

// Generic hosts one user extension and forwards messages to it.
type Generic struct {
	*base
	extensions *extension.Registry

	// Guarded by base.mu.
	extension extension.Extension
}

func newGeneric(b *base, extensions *extension.Registry) *Generic {
	g := &Generic{base: b, extensions: extensions}
	b.onExit = g.closeExtension
	return g
}

func (g *Generic) Register(server *service.SocketServer) {
	g.registerBase(server)
	server.Handle(ipc.ActionLoad, g.handleLoad)
	server.Handle(ipc.ActionLoadExtension, g.handleLoadExtension)
	server.Handle(ipc.ActionDispatch, g.handleDispatch)
}

func (g *Generic) handleLoadExtension(ctx context.Context, raw []byte) (any, error) {
	var request ipc.LoadExtensionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, service.Usagef("invalid load-extension request: %v", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.extension != nil {
		return nil, service.Usagef("an extension is already loaded")
	}
	created, err := g.extensions.New(request.Type, request.Args)
	if err != nil {
		return nil, err
	}
	if g.module != nil {
		if err := created.Loaded(ctx, g.module); err != nil {
			created.Close(ctx)
			return nil, fmt.Errorf("extension %q: %w", request.Type, err)
		}
	}
	g.extension = created
	g.logger.Info("extension loaded", "type", request.Type)
	return nil, nil
}

// handleLoad loads the target and notifies the extension, if one is
// loaded already.
func (g *Generic) handleLoad(ctx context.Context, raw []byte) (any, error) {
	path, err := decodeLoad(raw)
	if err != nil {
		return nil, err
	}
	module, err := g.load(ctx, path)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	current := g.extension
	g.mu.Unlock()
	if current != nil {
		if err := current.Loaded(ctx, module); err != nil {
			return nil, fmt.Errorf("extension: %w", err)
		}
	}
	return nil, nil
}

func (g *Generic) handleDispatch(ctx context.Context, raw []byte) (any, error) {
	var request ipc.DispatchRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, service.Usagef("invalid dispatch request: %v", err)
	}
	g.mu.Lock()
	current := g.extension
	g.mu.Unlock()
	if current == nil {
		return nil, service.Usagef("dispatch before load-extension")
	}

	result, err := current.Dispatch(ctx, request.Message, request.Args)
	if err != nil {
		return nil, err
	}
	return ipc.DispatchResponse{Result: result}, nil
}

func (g *Generic) closeExtension(ctx context.Context) {
	g.mu.Lock()
	current := g.extension
	g.extension = nil
	g.mu.Unlock()
	if current == nil {
		return
	}
	if err := current.Close(ctx); err != nil {
		g.logger.Warn("closing extension", "error", err)
	}
}

func (g *Generic) Close(ctx context.Context) error {
	g.closeExtension(ctx)
	return g.base.Close(ctx)
}
