// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by the
// worker channel and everything that persists wire values.
//
// Every value that crosses the channel between a client and a worker
// (requests, responses, decrypted strings, decrypted method bodies,
// extension payloads) is CBOR. CBOR was chosen over JSON because the
// channel must carry arbitrary nested object graphs with full
// fidelity: byte strings stay byte strings, integers keep their sign
// and width, and floats survive without decimal round-tripping.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). The
// same logical request always produces the same bytes, which keeps
// captured traffic diffable.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the channel socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// When a CBOR value is decoded into an untyped target (any,
// []any), unsigned integers decode as uint64, negative integers as
// int64, byte strings as []byte and maps as map[string]any.
// Consumers that accept call arguments must handle all of these.
package codec
