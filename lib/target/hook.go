// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// BodyHook captures the body decrypter an obfuscator module registers
// while it initializes. Registrations made before the hook is
// installed are not recorded.
type BodyHook struct {
	runtime *Runtime

	mu            sync.Mutex
	registrations []bodyRegistration
}

type bodyRegistration struct {
	instance api.Module
	export   string
}

// InstallBodyHook installs the runtime's body hook. A runtime has at
// most one; a second call returns ErrHookInstalled.
func (r *Runtime) InstallBodyHook() (*BodyHook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hook != nil {
		return nil, ErrHookInstalled
	}
	r.hook = &BodyHook{runtime: r}
	return r.hook, nil
}

func (h *BodyHook) register(instance api.Module, export string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registrations = append(h.registrations, bodyRegistration{instance: instance, export: export})
}

var bodyDecrypterParams = []api.ValueType{api.ValueTypeI32}
var bodyDecrypterResults = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}

// Decrypter returns the most recent registration whose export exists
// with the signature (i32) -> (i32, i32).
func (h *BodyHook) Decrypter() (*BodyDecrypter, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.registrations) - 1; i >= 0; i-- {
		registration := h.registrations[i]
		if registration.instance.IsClosed() {
			continue
		}
		function := registration.instance.ExportedFunction(registration.export)
		if function == nil {
			continue
		}
		definition := function.Definition()
		if !slices.Equal(definition.ParamTypes(), bodyDecrypterParams) ||
			!slices.Equal(definition.ResultTypes(), bodyDecrypterResults) {
			continue
		}
		return &BodyDecrypter{
			runtime:  h.runtime,
			instance: registration.instance,
			export:   registration.export,
		}, true
	}
	return nil, false
}

// BodyDecrypter decrypts method bodies through a registered export.
// The export takes a method token and returns the address and length
// of a blob laid out as [header length u8][header][body]. A zero
// length means the method has no encrypted body.
type BodyDecrypter struct {
	runtime  *Runtime
	instance api.Module
	export   string
}

// Export names the registered export.
func (d *BodyDecrypter) Export() string { return d.export }

// Decrypt recovers the body of token. ok is false when the decrypter
// reports nothing to recover.
func (d *BodyDecrypter) Decrypt(ctx context.Context, token uint32) (header, body []byte, ok bool, err error) {
	results, err := d.runtime.Call(ctx, d.instance, d.export, api.EncodeU32(token))
	if err != nil {
		return nil, nil, false, err
	}
	pointer := api.DecodeU32(results[0])
	length := api.DecodeU32(results[1])
	if length == 0 {
		return nil, nil, false, nil
	}

	blob, err := ReadBytes(d.instance.Memory(), pointer, length)
	if err != nil {
		return nil, nil, false, fmt.Errorf("reading body of %#08x: %w", token, err)
	}
	headerLength := int(blob[0])
	if 1+headerLength > len(blob) {
		return nil, nil, false, fmt.Errorf("body of %#08x declares a %d-byte header in a %d-byte blob",
			token, headerLength, len(blob))
	}
	return blob[1 : 1+headerLength], blob[1+headerLength:], true, nil
}
