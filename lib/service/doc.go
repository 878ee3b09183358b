// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the channel between a client and the worker that
// hosts its service.
//
// A channel is named by a [ipc.Identity]: Name selects the Unix socket
// (<runtime dir>/<name>.sock) and URI names the object published on
// it. [SocketServer] binds one service to one identity and serves a
// CBOR request-response protocol, one request per connection.
// [ServiceClient] is the caller side. Every request carries an
// "action", the target "uri", and a "request_id" used to correlate
// client and worker logs.
//
// Binding never expires: a server answers for as long as its worker
// runs, with no idle timeout.
//
// # Errors
//
// Failures are reported in the response envelope with a kind, so the
// client can rebuild a typed error on its side of the process boundary:
//
//   - [*UsageError]: protocol misuse (double load, call before setup,
//     unsupported method shape); never retried
//   - [*MalformedTargetError]: a corrupt or wrong-architecture module,
//     with a hint for the operator
//   - [*ServiceError]: any other failure inside the worker
//
// Two kinds originate on the client: [*UnreachableError] when the
// channel cannot be dialed, written, or read, and
// [*MalformedResponseError] when a response arrives but cannot be
// decoded. Teardown paths swallow both.
package service
