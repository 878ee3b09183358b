// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/netutil"
)

// ActionFunc processes a socket request for a specific action. The raw
// parameter is the full CBOR request (including the "action" field).
// The handler decodes action-specific fields from this raw message.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}. If non-nil, the value is marshaled as
// CBOR and placed in the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the wire-format envelope for all socket protocol
// responses. Handlers return a result value (or nil) and an error;
// the server wraps these into a Response before encoding.
type Response struct {
	OK      bool             `cbor:"ok"`
	Error   string           `cbor:"error,omitempty"`
	Kind    string           `cbor:"kind,omitempty"`
	Details codec.RawMessage `cbor:"details,omitempty"`
	Data    codec.RawMessage `cbor:"data,omitempty"`
}

// requestHeader holds the routing fields every request carries.
type requestHeader struct {
	Action    string `cbor:"action"`
	URI       string `cbor:"uri"`
	RequestID string `cbor:"request_id"`
}

// SocketPath returns the socket a channel name binds in runtimeDir.
func SocketPath(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, name+".sock")
}

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. Each connection handles exactly one request-response cycle:
// the client writes a CBOR value, the server processes it and writes
// a CBOR response, then the connection closes.
//
// Actions are registered with Handle before calling Serve. Requests
// addressed to another uri, and unknown actions, receive an error
// response.
type SocketServer struct {
	socketPath string
	uri        string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	// activeConnections tracks in-flight request handlers for graceful
	// shutdown. Serve waits for all active connections to complete
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will publish uri on the
// channel identity.Name in runtimeDir. Register actions with Handle
// before calling Serve.
func NewSocketServer(runtimeDir string, identity ipc.Identity, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: SocketPath(runtimeDir, identity.Name),
		uri:        identity.URI,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers a handler for the given action name. Panics if
// called after Serve has started or if the action is already
// registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready is closed once the socket is listening.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// SocketPath returns the path the server listens on.
func (s *SocketServer) SocketPath() string {
	return s.socketPath
}

// Serve starts accepting connections on the Unix socket and dispatches
// requests to registered action handlers. Blocks until ctx is
// cancelled, then stops accepting new connections and waits for active
// handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath, "uri", s.uri)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for the response to be written.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. A
// decrypt batch carries one argument array per call site, and large
// targets have tens of thousands of call sites.
const maxRequestSize = 16 << 20

// handleConnection processes one request-response cycle. Handler
// execution is not bounded here: a routine runs until it returns or
// the engine's call timeout aborts it.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Decode one CBOR value from the connection. CBOR is self-
	// delimiting so no framing protocol is needed. LimitReader
	// prevents a malicious client from exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if netutil.IsExpectedCloseError(err) {
			// Client connected and went away without a request.
			return
		}
		s.writeError(conn, "", fmt.Errorf("invalid request: %w", err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	var header requestHeader
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, "", fmt.Errorf("invalid request: %w", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, header.RequestID, errors.New("missing required field: action"))
		return
	}
	if header.URI != s.uri {
		s.writeError(conn, header.RequestID, fmt.Errorf("no object published at uri %q", header.URI))
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, header.RequestID, fmt.Errorf("unknown action %q", header.Action))
		return
	}

	started := time.Now()
	result, err := s.runHandler(ctx, header.Action, handler, raw)
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"request_id", header.RequestID,
			"error", err,
		)
		s.writeError(conn, header.RequestID, err)
		return
	}
	s.logger.Debug("action completed",
		"action", header.Action,
		"request_id", header.RequestID,
		"duration", time.Since(started),
	)

	s.writeSuccess(conn, header.RequestID, result)
}

// runHandler calls handler, converting a panic into an error response
// so that one failing action cannot take down the hosting process.
func (s *SocketServer) runHandler(ctx context.Context, action string, handler ActionFunc, raw codec.RawMessage) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("action panicked",
				"action", action,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			result, err = nil, fmt.Errorf("internal: action %s panicked: %v", action, recovered)
		}
	}()
	return handler(ctx, []byte(raw))
}

// writeError sends a failure response: {ok: false, error: "...",
// kind: "..."}. Write failures are logged at debug level: the
// connection is closing regardless.
func (s *SocketServer) writeError(conn net.Conn, requestID string, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	kind, message, details := errorKind(err)
	response := Response{OK: false, Error: message, Kind: kind}
	if details != nil {
		if encoded, marshalErr := codec.Marshal(details); marshalErr == nil {
			response.Details = encoded
		}
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write error response", "request_id", requestID, "error", err)
	}
}

// writeSuccess sends a success response. If result is nil, the
// response is {ok: true}. If non-nil, the value is marshaled as CBOR
// and placed in the "data" field: {ok: true, data: <cbor>}.
func (s *SocketServer) writeSuccess(conn net.Conn, requestID string, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, requestID, fmt.Errorf("internal: marshaling response: %w", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "request_id", requestID, "error", err)
	}
}
