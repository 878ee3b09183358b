// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
)

// Error kinds carried in the response envelope.
const (
	KindUsage           = "usage"
	KindMalformedTarget = "malformed-target"
)

// UsageError reports protocol misuse by the caller.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return "usage error: " + e.Message }

// Usagef returns a *UsageError with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// MalformedTargetError reports a module that cannot be loaded because
// it is corrupt or is not a module this runtime can execute.
type MalformedTargetError struct {
	Path    string `cbor:"path"`
	Hint    string `cbor:"hint"`
	Message string `cbor:"message"`
}

func (e *MalformedTargetError) Error() string {
	return fmt.Sprintf("bad image %s: %s (%s)", e.Path, e.Hint, e.Message)
}

// ServiceError is returned by Call when the worker fails a request
// without a more specific kind.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// UnreachableError reports a channel that could not be dialed,
// written, or read: the worker is not listening, has died, or closed
// the connection without answering.
type UnreachableError struct {
	Socket string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("channel %s unreachable: %v", e.Socket, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MalformedResponseError reports a response that arrived but could
// not be decoded, typically one truncated by a worker exiting
// mid-write.
type MalformedResponseError struct {
	Action string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response to %q: %v", e.Action, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsTeardownTolerable reports whether err is a failure a teardown path
// swallows: the worker is gone or went away mid-response.
func IsTeardownTolerable(err error) bool {
	var unreachable *UnreachableError
	var malformed *MalformedResponseError
	return errors.As(err, &unreachable) || errors.As(err, &malformed)
}

// errorKind classifies a handler error for the response envelope. For
// typed errors the message is the error's own, without any wrapping
// context, so the client rebuilds an identical value.
func errorKind(err error) (kind, message string, details any) {
	var usage *UsageError
	if errors.As(err, &usage) {
		return KindUsage, usage.Message, nil
	}
	var malformed *MalformedTargetError
	if errors.As(err, &malformed) {
		return KindMalformedTarget, malformed.Message, malformed
	}
	return "", err.Error(), nil
}
