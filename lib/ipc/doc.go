// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the
// client↔worker channel protocol. lib/client (the caller side) and
// lib/worker (the hosted service) both import this package so the wire
// types are defined once rather than mirrored.
//
// Each request is a CBOR map carrying an "action" naming the
// operation, the "uri" the service is published at, and the
// action-specific fields below. Responses use the envelope defined in
// lib/service.
package ipc
