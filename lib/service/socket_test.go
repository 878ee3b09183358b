// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/defang/lib/codec"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/testutil"
)

var testIdentity = ipc.Identity{Name: "Channelname", URI: "Objecturi"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type echoRequest struct {
	Text  string         `cbor:"text"`
	Units ipc.WireString `cbor:"units"`
}

// startServer runs a server with a few test actions and returns a
// client bound to it.
func startServer(t *testing.T) (*ServiceClient, string) {
	t.Helper()
	runtimeDir := testutil.SocketDir(t)
	server := NewSocketServer(runtimeDir, testIdentity, testLogger())

	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request echoRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return request, nil
	})
	server.Handle("nothing", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	server.Handle("misuse", func(ctx context.Context, raw []byte) (any, error) {
		return nil, Usagef("module already loaded")
	})
	server.Handle("bad-image", func(ctx context.Context, raw []byte) (any, error) {
		return nil, &MalformedTargetError{Path: "/samples/x.wasm", Hint: "file is an ELF executable", Message: "invalid magic number"}
	})
	server.Handle("panic", func(ctx context.Context, raw []byte) (any, error) {
		var counts map[string]int
		counts["calls"]++
		return nil, nil
	})
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("routine trapped")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(ctx); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "server did not stop")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server did not start listening")

	return NewServiceClient(runtimeDir, testIdentity), runtimeDir
}

func TestCallRoundTrip(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	request := echoRequest{Text: "hello", Units: ipc.WireString{0xD800, 0, 'x'}}
	var response echoRequest
	if err := client.Call(ctx, "echo", request, &response); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if response.Text != "hello" {
		t.Errorf("text = %q, want hello", response.Text)
	}
	if len(response.Units) != 3 || response.Units[0] != 0xD800 || response.Units[1] != 0 {
		t.Errorf("units = %#v", response.Units)
	}

	if err := client.Call(ctx, "nothing", nil, nil); err != nil {
		t.Errorf("Call(nothing): %v", err)
	}
}

func TestTypedErrorsCrossTheChannel(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	err := client.Call(ctx, "misuse", nil, nil)
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("error = %v (%T), want *UsageError", err, err)
	}
	if usage.Message != "module already loaded" {
		t.Errorf("message = %q", usage.Message)
	}

	err = client.Call(ctx, "bad-image", nil, nil)
	var malformed *MalformedTargetError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v (%T), want *MalformedTargetError", err, err)
	}
	if malformed.Path != "/samples/x.wasm" || malformed.Hint != "file is an ELF executable" {
		t.Errorf("malformed = %+v", malformed)
	}

	err = client.Call(ctx, "fail", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) || serviceError.Message != "routine trapped" {
		t.Errorf("error = %v, want *ServiceError with the handler's message", err)
	}
}

func TestHandlerPanicBecomesErrorResponse(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	err := client.Call(ctx, "panic", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("error = %v (%T), want *ServiceError", err, err)
	}
	if !strings.Contains(serviceError.Message, "panicked") {
		t.Errorf("message = %q, want it to report the panic", serviceError.Message)
	}

	// The server keeps serving after a handler panic.
	if err := client.Call(ctx, "nothing", nil, nil); err != nil {
		t.Errorf("Call(nothing) after panic: %v", err)
	}
}

func TestUnknownActionAndWrongURI(t *testing.T) {
	client, runtimeDir := startServer(t)
	ctx := context.Background()

	var serviceError *ServiceError
	err := client.Call(ctx, "no-such-action", nil, nil)
	if !errors.As(err, &serviceError) || !strings.Contains(serviceError.Message, "unknown action") {
		t.Errorf("unknown action error = %v", err)
	}

	stranger := NewServiceClient(runtimeDir, ipc.Identity{Name: testIdentity.Name, URI: "Elsewhere"})
	err = stranger.Call(ctx, "nothing", nil, nil)
	if !errors.As(err, &serviceError) || !strings.Contains(serviceError.Message, "no object published") {
		t.Errorf("wrong uri error = %v", err)
	}
}

func TestUnreachableChannel(t *testing.T) {
	client := NewServiceClient(testutil.SocketDir(t), testIdentity)
	err := client.Call(context.Background(), "nothing", nil, nil)
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error = %v (%T), want *UnreachableError", err, err)
	}
	if !IsTeardownTolerable(err) {
		t.Error("an unreachable channel should be tolerable in teardown")
	}
}

// rawServer accepts one connection, reads the request, and answers
// with reply verbatim before closing.
func rawServer(t *testing.T, runtimeDir string, reply []byte) {
	t.Helper()
	listener, err := net.Listen("unix", SocketPath(runtimeDir, testIdentity.Name))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var request codec.RawMessage
		codec.NewDecoder(conn).Decode(&request)
		conn.Write(reply)
	}()
}

func TestTruncatedResponseIsMalformed(t *testing.T) {
	runtimeDir := testutil.SocketDir(t)
	complete, err := codec.Marshal(Response{OK: true, Data: codec.RawMessage{0x01}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	rawServer(t, runtimeDir, complete[:len(complete)-3])

	err = NewServiceClient(runtimeDir, testIdentity).Call(context.Background(), "exit", nil, nil)
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v (%T), want *MalformedResponseError", err, err)
	}
	if !IsTeardownTolerable(err) {
		t.Error("a truncated response should be tolerable in teardown")
	}
}

func TestClosedWithoutAnswerIsUnreachable(t *testing.T) {
	runtimeDir := testutil.SocketDir(t)
	rawServer(t, runtimeDir, nil)

	err := NewServiceClient(runtimeDir, testIdentity).Call(context.Background(), "exit", nil, nil)
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error = %v (%T), want *UnreachableError", err, err)
	}
}

func TestCallHonorsCancellation(t *testing.T) {
	runtimeDir := testutil.SocketDir(t)
	server := NewSocketServer(runtimeDir, testIdentity, testLogger())
	release := make(chan struct{})
	server.Handle("block", func(ctx context.Context, raw []byte) (any, error) {
		<-release
		return nil, nil
	})
	serveCtx, stopServe := context.WithCancel(context.Background())
	go server.Serve(serveCtx)
	t.Cleanup(func() {
		close(release)
		stopServe()
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server did not start listening")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewServiceClient(runtimeDir, testIdentity).Call(ctx, "block", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestUsageErrorIsNotTeardownTolerable(t *testing.T) {
	if IsTeardownTolerable(Usagef("x")) {
		t.Error("usage errors must surface, not be swallowed")
	}
}
