// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrHookInstalled is returned by InstallBodyHook when the runtime
// already has one.
var ErrHookInstalled = errors.New("body decrypter hook already installed")

// FormatError reports a module that failed to decode or validate.
type FormatError struct {
	Path string
	Hint string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("bad module %s: %s: %v", e.Path, e.Hint, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// Hint classifies data by its leading bytes for error messages. The
// common failure is handing the analyzer the protected executable
// itself instead of a routine extracted from it.
func Hint(data []byte) string {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x7f, 'E', 'L', 'F'}):
		return "file is an ELF executable, not a WebAssembly module; extract the routine first"
	case len(data) >= 2 && data[0] == 'M' && data[1] == 'Z':
		return "file is a PE executable, not a WebAssembly module; extract the routine first"
	case len(data) >= 4 && isMachO(binary.BigEndian.Uint32(data)):
		return "file is a Mach-O executable, not a WebAssembly module; extract the routine first"
	case len(data) >= 4 && bytes.Equal(data[:4], wasmMagic):
		if len(data) < 8 {
			return fmt.Sprintf("file is truncated (%d bytes)", len(data))
		}
		version := binary.LittleEndian.Uint32(data[4:8])
		switch {
		case version == 1:
			return "module is corrupt, truncated, or uses features this runtime does not enable"
		case version&0xffff == 0x0d:
			return "file is a component-model binary; only core modules can be loaded"
		default:
			return fmt.Sprintf("unsupported WebAssembly version %#x", version)
		}
	case len(data) < 8:
		return fmt.Sprintf("file is truncated (%d bytes)", len(data))
	default:
		return fmt.Sprintf("not a WebAssembly module (leading bytes % x)", data[:4])
	}
}

func isMachO(magic uint32) bool {
	switch magic {
	case 0xfeedface, 0xfeedfacf, 0xcefaedfe, 0xcffaedfe, 0xcafebabe:
		return true
	}
	return false
}
