// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker hosts one analysis service on a channel. A worker is
// created for one service type, loads at most one target module, and
// serves requests until it is told to exit or its context ends.
//
// The three service types share the base actions (do-nothing, exit,
// load) and add their own:
//
//   - [StringDecrypter]: set-strategy, define-decrypter, decrypt.
//   - [MethodDecrypter]: install-hook, load-obfuscator, can-decrypt,
//     decrypt-all.
//   - [Generic]: load-extension, dispatch.
//
// [Run] is the entrypoint used by every loader: in the caller's
// goroutine, in a background goroutine with its own runtime, and in
// the defang-worker executable.
package worker
