// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/ipc"
)

// DoNothing probes the worker.
func (c *Client) DoNothing(ctx context.Context) error {
	return c.call(ctx, ipc.ActionDoNothing, nil, nil)
}

// Load loads the target module. A worker loads one module, once.
func (c *Client) Load(ctx context.Context, path string) error {
	return c.call(ctx, ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil)
}

// StringDecrypter is a client of a string decrypter worker.
type StringDecrypter struct {
	*Client
}

func (s *StringDecrypter) SetStrategy(ctx context.Context, strategy ipc.Strategy) error {
	return s.call(ctx, ipc.ActionSetStrategy, ipc.SetStrategyRequest{Strategy: strategy}, nil)
}

// DefineDecrypter registers the method with token and returns its
// index.
func (s *StringDecrypter) DefineDecrypter(ctx context.Context, token uint32) (int, error) {
	var response ipc.DefineDecrypterResponse
	if err := s.call(ctx, ipc.ActionDefineDecrypter, ipc.DefineDecrypterRequest{Token: token}, &response); err != nil {
		return 0, err
	}
	return response.Index, nil
}

// Decrypt runs the decrypter at index once per argument array.
// callerToken names the call site, or is zero.
func (s *StringDecrypter) Decrypt(ctx context.Context, index int, args [][]any, callerToken uint32) ([]ipc.WireString, error) {
	var response ipc.DecryptResponse
	request := ipc.DecryptRequest{Index: index, Args: args, CallerToken: callerToken}
	if err := s.call(ctx, ipc.ActionDecrypt, request, &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

// MethodDecrypter is a client of a method decrypter worker.
type MethodDecrypter struct {
	*Client
}

func (m *MethodDecrypter) InstallHook(ctx context.Context, info ipc.DecryptMethodsInfo) error {
	return m.call(ctx, ipc.ActionInstallHook, ipc.InstallHookRequest{Info: info}, nil)
}

func (m *MethodDecrypter) LoadObfuscator(ctx context.Context, path string) error {
	return m.call(ctx, ipc.ActionLoadObfuscator, ipc.LoadRequest{Path: path}, nil)
}

func (m *MethodDecrypter) CanDecrypt(ctx context.Context) (bool, error) {
	var response ipc.CanDecryptResponse
	if err := m.call(ctx, ipc.ActionCanDecrypt, nil, &response); err != nil {
		return false, err
	}
	return response.CanDecrypt, nil
}

func (m *MethodDecrypter) DecryptAll(ctx context.Context) ([]ipc.DecryptedMethod, error) {
	var response ipc.DecryptAllResponse
	if err := m.call(ctx, ipc.ActionDecryptAll, nil, &response); err != nil {
		return nil, err
	}
	return response.Methods, nil
}

// Generic is a client of a generic worker.
type Generic struct {
	*Client
}

func (g *Generic) LoadExtension(ctx context.Context, extensionType string, args ...any) error {
	return g.call(ctx, ipc.ActionLoadExtension, ipc.LoadExtensionRequest{Type: extensionType, Args: args}, nil)
}

// Dispatch sends message to the extension. The result is decoded
// without a schema: maps become map[string]any and arrays []any.
func (g *Generic) Dispatch(ctx context.Context, message int, args ...any) (any, error) {
	var response ipc.DispatchResponse
	request := ipc.DispatchRequest{Message: message, Args: args}
	if err := g.call(ctx, ipc.ActionDispatch, request, &response); err != nil {
		return nil, err
	}
	return response.Result, nil
}

// DispatchInto sends message to the extension and decodes the result
// into result, which must be a pointer.
func (g *Generic) DispatchInto(ctx context.Context, message int, result any, args ...any) error {
	raw, err := g.Dispatch(ctx, message, args...)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encoding message %d result: %w", message, err)
	}
	if err := codec.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding message %d result: %w", message, err)
	}
	return nil
}
