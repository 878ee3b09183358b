// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package target loads the modules under analysis into a WebAssembly
// runtime and exposes their functions as method handles.
//
// A [Runtime] wraps one wazero runtime. Workers create a compiler
// runtime for direct invocation; the emulation strategy creates an
// interpreter runtime of its own. Every runtime provides:
//
//   - wasi_snapshot_preview1, so modules built for WASI reactors load
//   - the "defang" host module, through which routines read their
//     caller token and obfuscators register body decrypters
//   - dependency linking: imports naming a module that is not yet
//     instantiated are resolved through the runtime's dependency
//     lookup and instantiated under the imported name
//
// Functions are addressed by method token, 0x06000000 | (index+1),
// where index is the function's position in the module's function
// index space. Only exported functions resolve; a token for an
// internal function resolves to nil, the same as a token that names
// nothing.
//
// Structurally invalid modules fail with [*FormatError], which carries
// a human-readable hint derived from the file's leading bytes.
package target
