// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/netutil"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. This is separate from the server's read/write
// timeouts; it covers only the connect phase.
const dialTimeout = 5 * time.Second

// maxResponseSize is the maximum size of a single CBOR response. A
// decrypt-all response carries every recovered method body.
const maxResponseSize = 256 << 20

// ServiceClient sends CBOR requests to a worker's channel. Each Call
// opens a new connection (matching the server's one-request-per-
// connection model), sends the request, reads the response, and
// closes the connection.
//
// There is no response deadline: a call lasts as long as the routine
// it runs. Cancel ctx to abandon a call.
type ServiceClient struct {
	socketPath string
	uri        string
}

// NewServiceClient creates a client for the object published at
// identity.URI on the channel identity.Name in runtimeDir.
func NewServiceClient(runtimeDir string, identity ipc.Identity) *ServiceClient {
	return &ServiceClient{
		socketPath: SocketPath(runtimeDir, identity.Name),
		uri:        identity.URI,
	}
}

// SocketPath returns the socket the client dials.
func (c *ServiceClient) SocketPath() string {
	return c.socketPath
}

// Call sends a CBOR request to the service and decodes the response.
//
// request is a struct (or map) of action-specific fields, or nil; the
// client adds "action", "uri", and "request_id". On success, if result
// is non-nil and the response contains data, the data is CBOR-decoded
// into result.
//
// Worker-side failures come back typed: *UsageError,
// *MalformedTargetError, or *ServiceError. Channel failures are
// *UnreachableError, and an undecodable response is
// *MalformedResponseError.
func (c *ServiceClient) Call(ctx context.Context, action string, request any, result any) error {
	fields, err := buildRequest(action, c.uri, request)
	if err != nil {
		return fmt.Errorf("encoding %q request: %w", action, err)
	}

	response, err := c.send(ctx, action, fields)
	if err != nil {
		return err
	}

	if !response.OK {
		return responseError(action, response)
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return &MalformedResponseError{Action: action, Err: fmt.Errorf("decoding data: %w", err)}
		}
	}

	return nil
}

// buildRequest flattens request into a CBOR map and injects the
// routing fields.
func buildRequest(action, uri string, request any) (map[string]any, error) {
	fields := make(map[string]any)
	if request != nil {
		encoded, err := codec.Marshal(request)
		if err != nil {
			return nil, err
		}
		if err := codec.Unmarshal(encoded, &fields); err != nil {
			return nil, fmt.Errorf("request must encode as a map: %w", err)
		}
	}

	fields["action"] = action
	fields["uri"] = uri
	fields["request_id"] = uuid.NewString()
	return fields, nil
}

// responseError rebuilds the typed error a worker reported.
func responseError(action string, response *Response) error {
	switch response.Kind {
	case KindUsage:
		return &UsageError{Message: response.Error}
	case KindMalformedTarget:
		malformed := &MalformedTargetError{Message: response.Error}
		if len(response.Details) > 0 {
			codec.Unmarshal(response.Details, malformed)
		}
		return malformed
	default:
		return &ServiceError{Action: action, Message: response.Error}
	}
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
func (c *ServiceClient) send(ctx context.Context, action string, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, &UnreachableError{Socket: c.socketPath, Err: fmt.Errorf("connecting: %w", err)}
	}
	defer conn.Close()

	// Abandon the call when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, &UnreachableError{Socket: c.socketPath, Err: fmt.Errorf("writing request: %w", err)}
	}

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isChannelFailure(err) {
			return nil, &UnreachableError{Socket: c.socketPath, Err: fmt.Errorf("reading response: %w", err)}
		}
		return nil, &MalformedResponseError{Action: action, Err: err}
	}

	return &response, nil
}

// isChannelFailure separates a connection that produced nothing (the
// worker closed it or died before answering) from one that produced
// bytes that do not decode.
func isChannelFailure(err error) bool {
	if netutil.IsExpectedCloseError(err) {
		return true
	}
	var netError net.Error
	if errors.As(err, &netError) {
		return true
	}
	var opError *net.OpError
	return errors.As(err, &opError)
}
