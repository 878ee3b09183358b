// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/fxamacker/cbor/v2"

	"github.com/bureau-foundation/defang/lib/codec"
)

// WireString is decrypted text as the routine produced it: a sequence
// of UTF-16 code units. Decryption routines routinely return embedded
// NULs and unpaired surrogates; converting to a Go string would
// replace those with U+FFFD, so the code units are carried verbatim
// and converted only at the edge.
//
// On the wire a WireString is a CBOR byte string holding the code
// units little-endian, wrapped in tag [WireStringTag] so that one
// decoded into an untyped value (a call argument) is still told apart
// from a plain byte buffer.
type WireString []uint16

// WireStringTag is the CBOR tag number marking a WireString.
const WireStringTag = 54260

// NewWireString encodes s as UTF-16.
func NewWireString(s string) WireString {
	return WireString(utf16.Encode([]rune(s)))
}

// String decodes the code units. Unpaired surrogates become U+FFFD;
// use Units for exact data.
func (w WireString) String() string {
	return string(utf16.Decode(w))
}

// Units returns the raw code units.
func (w WireString) Units() []uint16 {
	return []uint16(w)
}

// Bytes returns the code units little-endian.
func (w WireString) Bytes() []byte {
	data := make([]byte, 2*len(w))
	for i, unit := range w {
		binary.LittleEndian.PutUint16(data[2*i:], unit)
	}
	return data
}

// WireStringFromBytes decodes little-endian code units.
func WireStringFromBytes(data []byte) (WireString, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("wire string has odd length %d", len(data))
	}
	units := make(WireString, len(data)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return units, nil
}

// MarshalCBOR implements cbor.Marshaler.
func (w WireString) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(cbor.Tag{Number: WireStringTag, Content: w.Bytes()})
}

// UnmarshalCBOR implements cbor.Unmarshaler. Untagged byte strings are
// accepted too.
func (w *WireString) UnmarshalCBOR(data []byte) error {
	var value any
	if err := codec.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decoding wire string: %w", err)
	}
	units, ok, err := WireStringFromValue(value)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("decoding wire string: unexpected %T", value)
	}
	*w = units
	return nil
}

// WireStringFromValue recognizes a WireString decoded into an untyped
// value. ok is false when value is not one.
func WireStringFromValue(value any) (units WireString, ok bool, err error) {
	switch typed := value.(type) {
	case WireString:
		return typed, true, nil
	case cbor.Tag:
		if typed.Number != WireStringTag {
			return nil, false, nil
		}
		raw, isBytes := typed.Content.([]byte)
		if !isBytes {
			return nil, false, fmt.Errorf("wire string tag holds %T, want a byte string", typed.Content)
		}
		units, err := WireStringFromBytes(raw)
		return units, err == nil, err
	case []byte:
		units, err := WireStringFromBytes(typed)
		return units, err == nil, err
	default:
		return nil, false, nil
	}
}
