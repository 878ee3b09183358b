// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// AllocExport is the export a module provides so callers can pass
// buffers: alloc(size i32) -> i32 returns the address of size bytes
// the caller may write.
const AllocExport = "alloc"

// ReadBytes copies length bytes at pointer out of memory.
func ReadBytes(memory api.Memory, pointer, length uint32) ([]byte, error) {
	if memory == nil {
		return nil, fmt.Errorf("module has no memory")
	}
	view, ok := memory.Read(pointer, length)
	if !ok {
		return nil, fmt.Errorf("range [%#x, +%d) is outside memory of %d bytes", pointer, length, memory.Size())
	}
	return append([]byte(nil), view...), nil
}

// ReadUnits reads count little-endian UTF-16 code units at pointer.
func ReadUnits(memory api.Memory, pointer, count uint32) ([]uint16, error) {
	if uint64(count)*2 > uint64(^uint32(0)) {
		return nil, fmt.Errorf("string length %d is out of range", count)
	}
	data, err := ReadBytes(memory, pointer, count*2)
	if err != nil {
		return nil, err
	}
	units := make([]uint16, count)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return units, nil
}

// Allocate copies data into instance's memory through its alloc
// export and returns the address.
func (r *Runtime) Allocate(ctx context.Context, instance api.Module, data []byte) (uint32, error) {
	results, err := r.Call(ctx, instance, AllocExport, api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, fmt.Errorf("allocating %d bytes: %w", len(data), err)
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("alloc returned %d values, want 1", len(results))
	}
	pointer := api.DecodeU32(results[0])
	memory := instance.Memory()
	if memory == nil || !memory.Write(pointer, data) {
		return 0, fmt.Errorf("alloc returned %#x, which cannot hold %d bytes", pointer, len(data))
	}
	return pointer, nil
}
