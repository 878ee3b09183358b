// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/invoke"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// StringDecrypter registers string-returning routines of the target
// and runs them over batches of call-site arguments.
type StringDecrypter struct {
	*base

	// strategy is set once and guarded by base.mu.
	strategy invoke.Strategy
}

func (s *StringDecrypter) Register(server *service.SocketServer) {
	s.registerBase(server)
	server.Handle(ipc.ActionLoad, s.handleLoad)
	server.Handle(ipc.ActionSetStrategy, s.handleSetStrategy)
	server.Handle(ipc.ActionDefineDecrypter, s.handleDefineDecrypter)
	server.Handle(ipc.ActionDecrypt, s.handleDecrypt)
}

func (s *StringDecrypter) Close(ctx context.Context) error {
	s.mu.Lock()
	strategy := s.strategy
	s.mu.Unlock()
	if strategy != nil {
		if err := strategy.Close(ctx); err != nil {
			s.logger.Warn("closing strategy", "error", err)
		}
	}
	return s.base.Close(ctx)
}

func (s *StringDecrypter) handleLoad(ctx context.Context, raw []byte) (any, error) {
	path, err := decodeLoad(raw)
	if err != nil {
		return nil, err
	}
	_, err = s.load(ctx, path)
	return nil, err
}

// handleSetStrategy selects the invocation strategy. It needs the
// loaded module and may be called once.
func (s *StringDecrypter) handleSetStrategy(_ context.Context, raw []byte) (any, error) {
	var request ipc.SetStrategyRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, service.Usagef("invalid set-strategy request: %v", err)
	}
	module, err := s.loaded(ipc.ActionSetStrategy)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strategy != nil {
		return nil, service.Usagef("strategy already set")
	}
	strategy, err := invoke.New(request.Strategy, module, s.options, s.resolver.Resolve)
	if err != nil {
		return nil, err
	}
	s.strategy = strategy
	s.logger.Info("strategy set", "strategy", request.Strategy.String())
	return nil, nil
}

func (s *StringDecrypter) current(action string) (*target.Module, invoke.Strategy, error) {
	module, err := s.loaded(action)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strategy == nil {
		return nil, nil, service.Usagef("%s before set-strategy", action)
	}
	return module, s.strategy, nil
}

func (s *StringDecrypter) handleDefineDecrypter(_ context.Context, raw []byte) (any, error) {
	var request ipc.DefineDecrypterRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, service.Usagef("invalid define-decrypter request: %v", err)
	}
	module, strategy, err := s.current(ipc.ActionDefineDecrypter)
	if err != nil {
		return nil, err
	}

	method := module.ResolveMethod(request.Token)
	if method == nil {
		return nil, service.Usagef("token %#08x does not name an exported function of %s",
			request.Token, module.Name())
	}
	index, err := strategy.Register(method)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("decrypter defined", "method", method.String(), "index", index)
	return ipc.DefineDecrypterResponse{Index: index}, nil
}

// handleDecrypt runs one batch. An unresolvable caller token is
// treated as no caller.
func (s *StringDecrypter) handleDecrypt(ctx context.Context, raw []byte) (any, error) {
	var request ipc.DecryptRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, service.Usagef("invalid decrypt request: %v", err)
	}
	module, strategy, err := s.current(ipc.ActionDecrypt)
	if err != nil {
		return nil, err
	}

	var caller *target.Method
	if request.CallerToken != 0 {
		caller = module.ResolveMethod(request.CallerToken)
		if caller == nil {
			s.logger.Debug("caller token did not resolve", "token", request.CallerToken)
		}
	}

	results, err := strategy.Invoke(ctx, request.Index, request.Args, caller)
	if err != nil {
		return nil, err
	}
	return ipc.DecryptResponse{Results: results}, nil
}
