// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extension

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// InspectType is the type name of the built-in inspect extension.
const InspectType = "inspect"

// Messages understood by the inspect extension.
const (
	// InspectExports lists the target's exported functions.
	InspectExports = 1
	// InspectCustomSection returns the custom section named by the
	// first argument, or nil when there is none.
	InspectCustomSection = 2
	// InspectDigest returns the target's BLAKE3 digest.
	InspectDigest = 3
)

// Export describes one exported function.
type Export struct {
	Token      uint32 `cbor:"token" json:"token"`
	Name       string `cbor:"name" json:"name"`
	Signature  string `cbor:"signature" json:"signature"`
	StringLike bool   `cbor:"string_like" json:"string_like"`
}

// Inspect reports the structure of the loaded target.
type Inspect struct {
	module *target.Module
}

// NewInspect is the factory of the inspect extension. It takes no
// constructor arguments.
func NewInspect(args []any) (Extension, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("inspect takes no arguments, got %d", len(args))
	}
	return &Inspect{}, nil
}

func (i *Inspect) Loaded(_ context.Context, module *target.Module) error {
	i.module = module
	return nil
}

func (i *Inspect) Dispatch(_ context.Context, message int, args []any) (any, error) {
	if i.module == nil {
		return nil, service.Usagef("inspect: no module loaded")
	}

	switch message {
	case InspectExports:
		methods := i.module.Exports()
		exports := make([]Export, 0, len(methods))
		for _, method := range methods {
			exports = append(exports, Export{
				Token:      method.Token,
				Name:       method.Name,
				Signature:  method.Signature(),
				StringLike: method.StringLike(),
			})
		}
		return exports, nil

	case InspectCustomSection:
		if len(args) != 1 {
			return nil, service.Usagef("inspect: custom section message takes a section name")
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, service.Usagef("inspect: section name is %T, want a string", args[0])
		}
		section, found := i.module.CustomSection(name)
		if !found {
			return nil, nil
		}
		return section, nil

	case InspectDigest:
		digest := i.module.Digest()
		return digest[:], nil

	default:
		return nil, service.Usagef("inspect: unknown message %d", message)
	}
}

func (i *Inspect) Close(context.Context) error {
	i.module = nil
	return nil
}
