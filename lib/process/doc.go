// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the defang binaries.
//
// These functions are the only place outside the CLI where raw output
// to stderr is allowed: they report errors that happen before the
// structured logger exists, or that end the process.
package process
