// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for defang packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets. Socket paths are limited to 108 bytes (sun_path), and
// t.TempDir() paths under deeply nested test directories can exceed
// that limit. Channel identities are turned into socket paths inside
// this directory.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so that a hung worker fails the test instead of
// hanging the test binary.
//
// All helpers call t.Fatalf on failure.
package testutil
