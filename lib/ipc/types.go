// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"strconv"
)

// ServiceType selects the capability set hosted by a worker. It is
// fixed when the worker starts and travels to a separate worker
// process as its ordinal.
type ServiceType int

const (
	StringDecrypter ServiceType = iota
	MethodDecrypter
	Generic
)

func (t ServiceType) String() string {
	switch t {
	case StringDecrypter:
		return "string-decrypter"
	case MethodDecrypter:
		return "method-decrypter"
	case Generic:
		return "generic"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the defined service types.
func (t ServiceType) Valid() bool {
	return t >= StringDecrypter && t <= Generic
}

// ParseServiceType parses the ordinal form used on the worker command
// line.
func ParseServiceType(ordinal string) (ServiceType, error) {
	value, err := strconv.Atoi(ordinal)
	if err != nil {
		return 0, fmt.Errorf("service type %q is not an ordinal", ordinal)
	}
	serviceType := ServiceType(value)
	if !serviceType.Valid() {
		return 0, fmt.Errorf("service type %d is out of range", value)
	}
	return serviceType, nil
}

// Strategy selects how a string decrypter service invokes extracted
// routines.
type Strategy int

const (
	// StrategyDirect runs the routine natively through a compiled
	// trampoline. Fast, full fidelity, no caller context.
	StrategyDirect Strategy = iota

	// StrategyEmulate runs the routine in the interpreter and threads
	// the caller context into every invocation.
	StrategyEmulate
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyEmulate:
		return "emulate"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStrategy parses the names returned by Strategy.String.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "direct":
		return StrategyDirect, nil
	case "emulate":
		return StrategyEmulate, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q (want direct or emulate)", name)
	}
}

// Identity addresses a worker's published service: Name selects the
// channel (one listening socket per worker) and URI selects the object
// published on that channel.
type Identity struct {
	Name string `cbor:"name"`
	URI  string `cbor:"uri"`
}

func (id Identity) String() string {
	return "ipc://" + id.Name + "/" + id.URI
}

// DecryptMethodsInfo configures the method decrypter hook.
type DecryptMethodsInfo struct {
	// Tokens lists the methods whose bodies should be decrypted. An
	// empty list means every exported method of the module.
	Tokens []uint32 `cbor:"tokens,omitempty"`
}

// DecryptedMethod is one method body recovered by decrypt-all, keyed
// by its metadata token.
type DecryptedMethod struct {
	Token  uint32 `cbor:"token"`
	Header []byte `cbor:"header"`
	Body   []byte `cbor:"body"`
}
