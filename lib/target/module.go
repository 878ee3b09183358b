// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/defang/lib/modfile"
)

// MethodTable is the table tag carried in the top byte of a method
// token.
const MethodTable = 0x06000000

// TokenFor returns the method token of the function at funcIndex.
func TokenFor(funcIndex uint32) uint32 {
	return MethodTable | (funcIndex + 1)
}

// indexOf returns the function index a method token names.
func indexOf(token uint32) (uint32, bool) {
	if token&0xff000000 != MethodTable {
		return 0, false
	}
	row := token & 0x00ffffff
	if row == 0 {
		return 0, false
	}
	return row - 1, true
}

// Module is a compiled target module. A module compiled by the
// primary runtime is also instantiated there; Instance returns that
// instance.
type Module struct {
	runtime  *Runtime
	path     string
	name     string
	digest   [32]byte
	data     []byte
	compiled wazero.CompiledModule
	instance api.Module

	methods  map[uint32]*Method
	imports  []string
	sections map[string][]byte
}

// SimpleName derives a module's simple name from its file path:
// the base name with any recognized module extension removed.
func SimpleName(path string) string {
	base := filepath.Base(path)
	longest := ""
	for _, extension := range modfile.Extensions {
		if strings.HasSuffix(base, extension) && len(extension) > len(longest) {
			longest = extension
		}
	}
	return strings.TrimSuffix(base, longest)
}

func newModule(runtime *Runtime, name, path string, data []byte, compiled wazero.CompiledModule) *Module {
	module := &Module{
		runtime:  runtime,
		path:     path,
		name:     name,
		digest:   blake3.Sum256(data),
		data:     data,
		compiled: compiled,
		methods:  make(map[uint32]*Method),
		sections: make(map[string][]byte),
	}

	for exportName, definition := range compiled.ExportedFunctions() {
		token := TokenFor(definition.Index())
		if existing, ok := module.methods[token]; ok {
			// One function exported under several names: keep the
			// lexically first so the handle name is stable.
			if exportName < existing.Name {
				existing.Name = exportName
			}
			continue
		}
		module.methods[token] = &Method{
			Token:   token,
			Index:   definition.Index(),
			Name:    exportName,
			Params:  definition.ParamTypes(),
			Results: definition.ResultTypes(),
			module:  module,
		}
	}

	seen := make(map[string]bool)
	addImport := func(moduleName string) {
		if !seen[moduleName] {
			seen[moduleName] = true
			module.imports = append(module.imports, moduleName)
		}
	}
	for _, definition := range compiled.ImportedFunctions() {
		moduleName, _, _ := definition.Import()
		addImport(moduleName)
	}
	for _, definition := range compiled.ImportedMemories() {
		moduleName, _, _ := definition.Import()
		addImport(moduleName)
	}

	for _, section := range compiled.CustomSections() {
		if _, ok := module.sections[section.Name()]; !ok {
			module.sections[section.Name()] = section.Data()
		}
	}
	return module
}

// Name is the module's simple name.
func (m *Module) Name() string { return m.name }

// Path is the file the module was read from, or "" for in-memory
// modules.
func (m *Module) Path() string { return m.path }

// Digest is the BLAKE3 hash of the module bytes.
func (m *Module) Digest() [32]byte { return m.digest }

// FullName qualifies the simple name with a digest prefix, so two
// different builds of a dependency with the same file name stay
// distinct.
func (m *Module) FullName() string {
	return fmt.Sprintf("%s, Digest=%x", m.name, m.digest[:8])
}

// Bytes returns the decoded module binary. Callers must not modify it.
func (m *Module) Bytes() []byte { return m.data }

// Instance returns the module's instance in its runtime, or nil if it
// was compiled but not instantiated.
func (m *Module) Instance() api.Module { return m.instance }

// Runtime returns the runtime that compiled the module.
func (m *Module) Runtime() *Runtime { return m.runtime }

// Imports lists the distinct module names this module imports from.
func (m *Module) Imports() []string { return m.imports }

// ResolveMethod returns the exported function a token names, or nil.
func (m *Module) ResolveMethod(token uint32) *Method {
	if _, ok := indexOf(token); !ok {
		return nil
	}
	return m.methods[token]
}

// Exports lists the exported methods in token order.
func (m *Module) Exports() []*Method {
	methods := make([]*Method, 0, len(m.methods))
	for _, method := range m.methods {
		methods = append(methods, method)
	}
	slices.SortFunc(methods, func(a, b *Method) int {
		return cmp.Compare(a.Token, b.Token)
	})
	return methods
}

// CustomSection returns the first custom section called name.
func (m *Module) CustomSection(name string) ([]byte, bool) {
	data, ok := m.sections[name]
	return data, ok
}

// Method is an exported function of a target module.
type Method struct {
	Token   uint32
	Index   uint32
	Name    string
	Params  []api.ValueType
	Results []api.ValueType

	module *Module
}

// Module returns the module the method belongs to.
func (m *Method) Module() *Module { return m.module }

// StringLike reports whether the method returns a string: a pointer
// and a length in UTF-16 code units, both i32.
func (m *Method) StringLike() bool {
	return len(m.Results) == 2 &&
		m.Results[0] == api.ValueTypeI32 &&
		m.Results[1] == api.ValueTypeI32
}

// Signature formats the method type, e.g. "(i32, i64) -> (i32, i32)".
func (m *Method) Signature() string {
	return formatTypes(m.Params) + " -> " + formatTypes(m.Results)
}

func formatTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, valueType := range types {
		names[i] = api.ValueTypeName(valueType)
	}
	return "(" + strings.Join(names, ", ") + ")"
}

func (m *Method) String() string {
	return fmt.Sprintf("%s %#08x %s%s", m.module.name, m.Token, m.Name, m.Signature())
}
