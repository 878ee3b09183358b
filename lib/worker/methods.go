// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// MethodDecrypter recovers encrypted method bodies. The obfuscator
// module registers its body decrypter while it initializes; the hook
// installed beforehand captures that registration.
type MethodDecrypter struct {
	*base

	// Guarded by base.mu.
	hook *target.BodyHook
	info ipc.DecryptMethodsInfo
}

func (m *MethodDecrypter) Register(server *service.SocketServer) {
	m.registerBase(server)
	server.Handle(ipc.ActionLoad, m.handleLoad)
	server.Handle(ipc.ActionInstallHook, m.handleInstallHook)
	server.Handle(ipc.ActionLoadObfuscator, m.handleLoadObfuscator)
	server.Handle(ipc.ActionCanDecrypt, m.handleCanDecrypt)
	server.Handle(ipc.ActionDecryptAll, m.handleDecryptAll)
}

func (m *MethodDecrypter) handleInstallHook(_ context.Context, raw []byte) (any, error) {
	var request ipc.InstallHookRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, service.Usagef("invalid install-hook request: %v", err)
	}

	hook, err := m.runtime.InstallBodyHook()
	if errors.Is(err, target.ErrHookInstalled) {
		return nil, service.Usagef("hook already installed")
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.hook = hook
	m.info = request.Info
	m.mu.Unlock()
	m.logger.Info("body hook installed", "tokens", len(request.Info.Tokens))
	return nil, nil
}

func (m *MethodDecrypter) handleLoad(ctx context.Context, raw []byte) (any, error) {
	path, err := decodeLoad(raw)
	if err != nil {
		return nil, err
	}
	_, err = m.load(ctx, path)
	return nil, err
}

// handleLoadObfuscator loads the obfuscator. Loading runs its
// initializer, which is where it registers the body decrypter, so the
// hook must already be installed.
func (m *MethodDecrypter) handleLoadObfuscator(ctx context.Context, raw []byte) (any, error) {
	path, err := decodeLoad(raw)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	installed := m.hook != nil
	m.mu.Unlock()
	if !installed {
		return nil, service.Usagef("load-obfuscator before install-hook")
	}
	_, err = m.load(ctx, path)
	return nil, err
}

func (m *MethodDecrypter) decrypter() (*target.BodyDecrypter, bool) {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook == nil {
		return nil, false
	}
	return hook.Decrypter()
}

func (m *MethodDecrypter) handleCanDecrypt(context.Context, []byte) (any, error) {
	_, ok := m.decrypter()
	return ipc.CanDecryptResponse{CanDecrypt: ok}, nil
}

// handleDecryptAll runs the body decrypter over the requested tokens,
// or every exported function of the obfuscator when none were named.
// Methods the decrypter has no body for are left out.
func (m *MethodDecrypter) handleDecryptAll(ctx context.Context, _ []byte) (any, error) {
	module, err := m.loaded(ipc.ActionDecryptAll)
	if err != nil {
		return nil, err
	}
	decrypter, ok := m.decrypter()
	if !ok {
		return nil, service.Usagef("no body decrypter was registered")
	}

	m.mu.Lock()
	tokens := slices.Clone(m.info.Tokens)
	m.mu.Unlock()
	if len(tokens) == 0 {
		for _, method := range module.Exports() {
			tokens = append(tokens, method.Token)
		}
	}
	slices.Sort(tokens)
	tokens = slices.Compact(tokens)

	methods := make([]ipc.DecryptedMethod, 0, len(tokens))
	for _, token := range tokens {
		header, body, found, err := decrypter.Decrypt(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("decrypting body of %#08x: %w", token, err)
		}
		if !found {
			continue
		}
		methods = append(methods, ipc.DecryptedMethod{Token: token, Header: header, Body: body})
	}
	m.logger.Info("method bodies decrypted",
		"decrypter", decrypter.Export(),
		"requested", len(tokens),
		"decrypted", len(methods),
	)
	return ipc.DecryptAllResponse{Methods: methods}, nil
}
