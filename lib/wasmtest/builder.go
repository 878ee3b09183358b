// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wasmtest assembles small WebAssembly modules in-process for
// tests, so no compiler toolchain is needed to produce target modules.
//
// [Builder] emits the binary format directly. Function bodies are
// byte slices built from the instruction helpers in instr.go.
// fixtures.go builds the canned modules that the runtime, worker, and
// client tests share.
package wasmtest

import (
	"encoding/binary"
	"math"
)

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
	F32 ValType = 0x7d
	F64 ValType = 0x7c
)

// Token returns the method token for a function index. The runtime
// computes the same value; keep the two in step.
func Token(funcIndex uint32) uint32 {
	return 0x06000000 | (funcIndex + 1)
}

type funcType struct {
	params  []ValType
	results []ValType
}

type function struct {
	typeIndex uint32
	locals    []ValType
	body      []byte
}

type funcImport struct {
	module    string
	name      string
	typeIndex uint32
}

type global struct {
	valType ValType
	mutable bool
	init    []byte
}

type export struct {
	name  string
	kind  byte
	index uint32
}

type segment struct {
	offset uint32
	data   []byte
}

type custom struct {
	name string
	data []byte
}

// Builder accumulates the sections of one module.
type Builder struct {
	types     []funcType
	imports   []funcImport
	functions []function
	memoryMin uint32
	hasMemory bool
	globals   []global
	exports   []export
	data      []segment
	customs   []custom
}

// New returns an empty module builder.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []ValType) uint32 {
	for i, existing := range b.types {
		if equalTypes(existing.params, params) && equalTypes(existing.results, results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

func equalTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ImportFunc declares an imported function and returns its function
// index. All imports must be declared before the first Func.
func (b *Builder) ImportFunc(module, name string, params, results []ValType) uint32 {
	if len(b.functions) > 0 {
		panic("wasmtest: imports must be declared before functions")
	}
	b.imports = append(b.imports, funcImport{module: module, name: name, typeIndex: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its function index. body is the
// instruction sequence without the trailing end opcode.
func (b *Builder) Func(params, results, locals []ValType, body ...[]byte) uint32 {
	b.functions = append(b.functions, function{
		typeIndex: b.typeIndex(params, results),
		locals:    locals,
		body:      Code(body...),
	})
	return uint32(len(b.imports) + len(b.functions) - 1)
}

// Export exports function index under name.
func (b *Builder) Export(name string, funcIndex uint32) *Builder {
	b.exports = append(b.exports, export{name: name, kind: 0x00, index: funcIndex})
	return b
}

// ExportedFunc defines a function and exports it under name.
func (b *Builder) ExportedFunc(name string, params, results, locals []ValType, body ...[]byte) uint32 {
	index := b.Func(params, results, locals, body...)
	b.Export(name, index)
	return index
}

// Memory declares one linear memory of minPages and exports it as
// "memory".
func (b *Builder) Memory(minPages uint32) *Builder {
	b.hasMemory = true
	b.memoryMin = minPages
	b.exports = append(b.exports, export{name: "memory", kind: 0x02, index: 0})
	return b
}

// GlobalI32 declares an i32 global and returns its index.
func (b *Builder) GlobalI32(mutable bool, value int32) uint32 {
	b.globals = append(b.globals, global{valType: I32, mutable: mutable, init: I32Const(value)})
	return uint32(len(b.globals) - 1)
}

// Data places bytes in memory 0 at offset.
func (b *Builder) Data(offset uint32, data []byte) *Builder {
	b.data = append(b.data, segment{offset: offset, data: data})
	return b
}

// Custom appends a custom section.
func (b *Builder) Custom(name string, data []byte) *Builder {
	b.customs = append(b.customs, custom{name: name, data: data})
	return b
}

// Encode returns the module binary.
func (b *Builder) Encode() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		var section []byte
		section = appendU32(section, uint32(len(b.types)))
		for _, funcType := range b.types {
			section = append(section, 0x60)
			section = appendValTypes(section, funcType.params)
			section = appendValTypes(section, funcType.results)
		}
		out = appendSection(out, 1, section)
	}

	if len(b.imports) > 0 {
		var section []byte
		section = appendU32(section, uint32(len(b.imports)))
		for _, imported := range b.imports {
			section = appendName(section, imported.module)
			section = appendName(section, imported.name)
			section = append(section, 0x00)
			section = appendU32(section, imported.typeIndex)
		}
		out = appendSection(out, 2, section)
	}

	if len(b.functions) > 0 {
		var section []byte
		section = appendU32(section, uint32(len(b.functions)))
		for _, fn := range b.functions {
			section = appendU32(section, fn.typeIndex)
		}
		out = appendSection(out, 3, section)
	}

	if b.hasMemory {
		var section []byte
		section = appendU32(section, 1)
		section = append(section, 0x00)
		section = appendU32(section, b.memoryMin)
		out = appendSection(out, 5, section)
	}

	if len(b.globals) > 0 {
		var section []byte
		section = appendU32(section, uint32(len(b.globals)))
		for _, g := range b.globals {
			section = append(section, byte(g.valType))
			if g.mutable {
				section = append(section, 0x01)
			} else {
				section = append(section, 0x00)
			}
			section = append(section, g.init...)
			section = append(section, opEnd)
		}
		out = appendSection(out, 6, section)
	}

	if len(b.exports) > 0 {
		var section []byte
		section = appendU32(section, uint32(len(b.exports)))
		for _, e := range b.exports {
			section = appendName(section, e.name)
			section = append(section, e.kind)
			section = appendU32(section, e.index)
		}
		out = appendSection(out, 7, section)
	}

	if len(b.functions) > 0 {
		var section []byte
		section = appendU32(section, uint32(len(b.functions)))
		for _, fn := range b.functions {
			var body []byte
			body = appendU32(body, uint32(len(fn.locals)))
			for _, local := range fn.locals {
				body = appendU32(body, 1)
				body = append(body, byte(local))
			}
			body = append(body, fn.body...)
			body = append(body, opEnd)
			section = appendU32(section, uint32(len(body)))
			section = append(section, body...)
		}
		out = appendSection(out, 10, section)
	}

	if len(b.data) > 0 {
		var section []byte
		section = appendU32(section, uint32(len(b.data)))
		for _, seg := range b.data {
			section = append(section, 0x00)
			section = append(section, I32Const(int32(seg.offset))...)
			section = append(section, opEnd)
			section = appendU32(section, uint32(len(seg.data)))
			section = append(section, seg.data...)
		}
		out = appendSection(out, 11, section)
	}

	for _, c := range b.customs {
		var section []byte
		section = appendName(section, c.name)
		section = append(section, c.data...)
		out = appendSection(out, 0, section)
	}

	return out
}

func appendSection(out []byte, id byte, contents []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(contents)))
	return append(out, contents...)
}

func appendValTypes(out []byte, types []ValType) []byte {
	out = appendU32(out, uint32(len(types)))
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

func appendName(out []byte, name string) []byte {
	out = appendU32(out, uint32(len(name)))
	return append(out, name...)
}

func appendU32(out []byte, value uint32) []byte {
	return binary.AppendUvarint(out, uint64(value))
}

func appendS64(out []byte, value int64) []byte {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if (value == 0 && b&0x40 == 0) || (value == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// UTF16 encodes ASCII text as little-endian UTF-16 code units, the
// layout routines use for string-like results.
func UTF16(text string) []byte {
	out := make([]byte, 0, 2*len(text))
	for _, r := range text {
		if r > math.MaxUint16 {
			panic("wasmtest: UTF16 only handles the basic multilingual plane")
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(r))
	}
	return out
}

// Units encodes raw code units little-endian.
func Units(units ...uint16) []byte {
	out := make([]byte, 0, 2*len(units))
	for _, unit := range units {
		out = binary.LittleEndian.AppendUint16(out, unit)
	}
	return out
}
