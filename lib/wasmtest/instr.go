// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wasmtest

const (
	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opEnd         = 0x0b
	opBr          = 0x0c
	opBrIf        = 0x0d
	opCall        = 0x10
	opDrop        = 0x1a
	opSelect      = 0x1b
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load16U  = 0x2f
	opI32Store16  = 0x3b
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Eqz      = 0x45
	opI32Eq       = 0x46
	opI32GeU      = 0x4f
	opI64GtU      = 0x56
	opI32Add      = 0x6a
	opI32And      = 0x71
	opI32Xor      = 0x73
	opI32Shl      = 0x74

	blockEmpty = 0x40
)

// Code concatenates instruction sequences.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

func I32Const(value int32) []byte   { return appendS64([]byte{opI32Const}, int64(value)) }
func I64Const(value int64) []byte   { return appendS64([]byte{opI64Const}, value) }
func LocalGet(index uint32) []byte  { return appendU32([]byte{opLocalGet}, index) }
func LocalSet(index uint32) []byte  { return appendU32([]byte{opLocalSet}, index) }
func GlobalGet(index uint32) []byte { return appendU32([]byte{opGlobalGet}, index) }
func GlobalSet(index uint32) []byte { return appendU32([]byte{opGlobalSet}, index) }
func Call(funcIndex uint32) []byte  { return appendU32([]byte{opCall}, funcIndex) }
func Br(depth uint32) []byte        { return appendU32([]byte{opBr}, depth) }
func BrIf(depth uint32) []byte      { return appendU32([]byte{opBrIf}, depth) }

// I32Load16U loads a 16-bit code unit with 2-byte alignment.
func I32Load16U(offset uint32) []byte { return appendU32([]byte{opI32Load16U, 0x01}, offset) }

// I32Store16 stores a 16-bit code unit with 2-byte alignment.
func I32Store16(offset uint32) []byte { return appendU32([]byte{opI32Store16, 0x01}, offset) }

// Block opens a block with no result.
func Block() []byte { return []byte{opBlock, blockEmpty} }

// Loop opens a loop with no result.
func Loop() []byte { return []byte{opLoop, blockEmpty} }

var (
	End         = []byte{opEnd}
	Unreachable = []byte{opUnreachable}
	Drop        = []byte{opDrop}
	Select      = []byte{opSelect}
	I32Eqz      = []byte{opI32Eqz}
	I32Eq       = []byte{opI32Eq}
	I32GeU      = []byte{opI32GeU}
	I64GtU      = []byte{opI64GtU}
	I32Add      = []byte{opI32Add}
	I32And      = []byte{opI32And}
	I32Xor      = []byte{opI32Xor}
	I32Shl      = []byte{opI32Shl}
)
