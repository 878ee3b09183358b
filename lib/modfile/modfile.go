// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package modfile reads target module files from disk.
//
// Samples of protected binaries are rarely stored bare: collections
// keep them compressed, and hostile samples are often kept encrypted
// at rest so that nothing scans or executes them by accident. The
// on-disk form is chosen by file extension:
//
//	name.wasm       raw module bytes
//	name.wasm.zst   zstd frame
//	name.wasm.lz4   lz4 frame
//	name.wasm.age   age-encrypted module (identities required)
//
// [Extensions] lists these suffixes in probe order for the dependency
// resolver.
package modfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxModuleSize bounds the decoded size of a module. A decompression
// bomb posing as a sample fails rather than exhausting memory.
const MaxModuleSize = 256 << 20

// Extensions are the recognized module file suffixes in probe order.
var Extensions = []string{".wasm", ".wasm.zst", ".wasm.lz4", ".wasm.age"}

// ErrNoIdentity is returned when an encrypted sample is read without
// any age identity configured.
var ErrNoIdentity = errors.New("encrypted module requires an age identity (samples.identity_file)")

// Reader reads module files. The zero value reads plain and
// compressed modules; set Identities to read encrypted ones.
type Reader struct {
	Identities []age.Identity
}

// ReadFile reads and decodes the module at path. Errors from opening
// the file wrap the underlying *fs.PathError so callers can test for
// fs.ErrNotExist.
func (r *Reader) ReadFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return r.Decode(file, path)
}

// Decode decodes a module stream whose on-disk form is named by name's
// extension.
func (r *Reader) Decode(source io.Reader, name string) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".zst"):
		decoder, err := zstd.NewReader(source, zstd.WithDecoderMaxMemory(MaxModuleSize))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer decoder.Close()
		return readBounded(decoder, "zstd")

	case strings.HasSuffix(name, ".lz4"):
		return readBounded(lz4.NewReader(source), "lz4")

	case strings.HasSuffix(name, ".age"):
		if len(r.Identities) == 0 {
			return nil, ErrNoIdentity
		}
		plaintext, err := age.Decrypt(source, r.Identities...)
		if err != nil {
			return nil, fmt.Errorf("age: %w", err)
		}
		return readBounded(plaintext, "age")

	default:
		return readBounded(source, "read")
	}
}

func readBounded(source io.Reader, stage string) ([]byte, error) {
	var buffer bytes.Buffer
	written, err := io.Copy(&buffer, io.LimitReader(source, MaxModuleSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	if written > MaxModuleSize {
		return nil, fmt.Errorf("%s: module exceeds %d bytes", stage, MaxModuleSize)
	}
	return buffer.Bytes(), nil
}

// LoadIdentities parses an age identity file (one identity per line,
// # comments allowed).
func LoadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer file.Close()

	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return identities, nil
}

// NewReader returns a Reader using the identities in identityFile, or
// a Reader without identities when identityFile is empty.
func NewReader(identityFile string) (*Reader, error) {
	if identityFile == "" {
		return &Reader{}, nil
	}
	identities, err := LoadIdentities(identityFile)
	if err != nil {
		return nil, err
	}
	return &Reader{Identities: identities}, nil
}
