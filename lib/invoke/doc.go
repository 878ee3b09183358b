// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package invoke turns method handles extracted from a target module
// into callables, and runs batches of call sites through them.
//
// Two interchangeable strategies implement [Strategy]:
//
//   - [Direct] binds each registered method to the target's own
//     instance in the compiler runtime when it is registered. Calls run
//     natively with full fidelity; no caller context is passed.
//   - [Emulate] builds each method through an [Emulator] the first
//     time its registration is invoked, and sets the caller before
//     every call so routines that derive keys from their call site
//     still produce the right output. [InterpreterEmulator] runs the
//     method in a separate interpreter runtime.
//
// Neither strategy retries. An unsupported method shape or argument
// is a *service.UsageError; a routine that traps fails the whole
// batch.
package invoke
