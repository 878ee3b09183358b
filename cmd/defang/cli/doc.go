// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree framework of the defang CLI.
//
// A [Command] either runs or dispatches to subcommands by its first
// positional argument. Flags come from tagged parameter structs bound
// with [FlagsFromParams]; results are written as text for terminals
// and as JSON otherwise, see [Output].
package cli
