// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/extension"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/namegen"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/testutil"
	"github.com/bureau-foundation/defang/lib/wasmtest"
)

type harness struct {
	client *service.ServiceClient
	done   chan error
}

// startWorker runs a worker of serviceType and returns a client for
// its channel once it is listening.
func startWorker(t *testing.T, serviceType ipc.ServiceType) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.RuntimeDir = testutil.SocketDir(t)
	identity := namegen.Identity()

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			ServiceType: serviceType,
			Identity:    identity,
			Config:      cfg,
			Ready:       ready,
		})
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "worker did not stop")
	})

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("worker stopped before listening: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start listening")
	}
	return &harness{client: service.NewServiceClient(cfg.RuntimeDir, identity), done: done}
}

func (h *harness) call(t *testing.T, action string, request, result any) {
	t.Helper()
	if err := h.client.Call(context.Background(), action, request, result); err != nil {
		t.Fatalf("%s: %v", action, err)
	}
}

func (h *harness) callErr(action string, request, result any) error {
	return h.client.Call(context.Background(), action, request, result)
}

func writeModule(t *testing.T, dir, name string, binary []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, binary, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func requireUsage(t *testing.T, err error, what string) {
	t.Helper()
	var usage *service.UsageError
	if !errors.As(err, &usage) {
		t.Errorf("%s: got %v (%T), want *service.UsageError", what, err, err)
	}
}

func TestStringDecrypterScenario(t *testing.T) {
	for _, strategy := range []ipc.Strategy{ipc.StrategyDirect, ipc.StrategyEmulate} {
		t.Run(strategy.String(), func(t *testing.T) {
			fixture := wasmtest.Decrypter(false)
			path := writeModule(t, t.TempDir(), "target.wasm", fixture.Binary)
			h := startWorker(t, ipc.StringDecrypter)

			h.call(t, ipc.ActionDoNothing, nil, nil)
			h.call(t, ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil)
			h.call(t, ipc.ActionSetStrategy, ipc.SetStrategyRequest{Strategy: strategy}, nil)

			var decrypt, xor ipc.DefineDecrypterResponse
			h.call(t, ipc.ActionDefineDecrypter, ipc.DefineDecrypterRequest{Token: fixture.Decrypt}, &decrypt)
			h.call(t, ipc.ActionDefineDecrypter, ipc.DefineDecrypterRequest{Token: fixture.XorString}, &xor)
			if decrypt.Index != 0 || xor.Index != 1 {
				t.Fatalf("indices = %d, %d; want 0, 1", decrypt.Index, xor.Index)
			}

			var response ipc.DecryptResponse
			h.call(t, ipc.ActionDecrypt, ipc.DecryptRequest{
				Index: decrypt.Index,
				Args:  [][]any{{5}, {6}, {-1}},
			}, &response)
			want := []string{wasmtest.ExpectedValue, wasmtest.OtherValue, wasmtest.OtherValue}
			if len(response.Results) != len(want) {
				t.Fatalf("got %d results, want %d", len(response.Results), len(want))
			}
			for i := range want {
				if got := response.Results[i].String(); got != want[i] {
					t.Errorf("result %d = %q, want %q", i, got, want[i])
				}
			}

			h.call(t, ipc.ActionDecrypt, ipc.DecryptRequest{
				Index: xor.Index,
				Args:  [][]any{{ipc.NewWireString("abc"), 1}, {"", 9}},
			}, &response)
			if len(response.Results) != 2 || response.Results[0].String() != "`cb" || len(response.Results[1]) != 0 {
				t.Errorf("xor results = %v", response.Results)
			}
		})
	}
}

func TestDecryptCallerToken(t *testing.T) {
	tests := []struct {
		strategy ipc.Strategy
		caller   func(wasmtest.DecrypterFixture) uint32
		want     string
	}{
		{ipc.StrategyEmulate, func(f wasmtest.DecrypterFixture) uint32 { return f.Decrypt }, wasmtest.ByCaller},
		{ipc.StrategyEmulate, func(f wasmtest.DecrypterFixture) uint32 { return f.Internal }, wasmtest.NoCaller},
		{ipc.StrategyEmulate, func(wasmtest.DecrypterFixture) uint32 { return 0 }, wasmtest.NoCaller},
		{ipc.StrategyDirect, func(f wasmtest.DecrypterFixture) uint32 { return f.Decrypt }, wasmtest.NoCaller},
	}
	for _, test := range tests {
		fixture := wasmtest.Decrypter(false)
		caller := test.caller(fixture)
		t.Run(test.strategy.String(), func(t *testing.T) {
			path := writeModule(t, t.TempDir(), "target.wasm", fixture.Binary)
			h := startWorker(t, ipc.StringDecrypter)
			h.call(t, ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil)
			h.call(t, ipc.ActionSetStrategy, ipc.SetStrategyRequest{Strategy: test.strategy}, nil)
			var defined ipc.DefineDecrypterResponse
			h.call(t, ipc.ActionDefineDecrypter, ipc.DefineDecrypterRequest{Token: fixture.CallerAware}, &defined)

			var response ipc.DecryptResponse
			h.call(t, ipc.ActionDecrypt, ipc.DecryptRequest{
				Index:       defined.Index,
				Args:        [][]any{{}},
				CallerToken: caller,
			}, &response)
			if got := response.Results[0].String(); got != test.want {
				t.Errorf("caller %#x: got %q, want %q", caller, got, test.want)
			}
		})
	}
}

func TestStringDecrypterMisuse(t *testing.T) {
	fixture := wasmtest.Decrypter(false)
	path := writeModule(t, t.TempDir(), "target.wasm", fixture.Binary)
	h := startWorker(t, ipc.StringDecrypter)

	requireUsage(t, h.callErr(ipc.ActionSetStrategy, ipc.SetStrategyRequest{}, nil), "set-strategy before load")
	requireUsage(t, h.callErr(ipc.ActionDecrypt, ipc.DecryptRequest{Args: [][]any{{5}}}, nil), "decrypt before load")
	requireUsage(t, h.callErr(ipc.ActionLoad, ipc.LoadRequest{}, nil), "load without a path")

	h.call(t, ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil)
	requireUsage(t, h.callErr(ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil), "second load")
	requireUsage(t, h.callErr(ipc.ActionDefineDecrypter, ipc.DefineDecrypterRequest{Token: fixture.Decrypt}, nil),
		"define-decrypter before set-strategy")

	requireUsage(t, h.callErr(ipc.ActionSetStrategy, ipc.SetStrategyRequest{Strategy: ipc.Strategy(7)}, nil), "unknown strategy")
	h.call(t, ipc.ActionSetStrategy, ipc.SetStrategyRequest{Strategy: ipc.StrategyDirect}, nil)
	requireUsage(t, h.callErr(ipc.ActionSetStrategy, ipc.SetStrategyRequest{Strategy: ipc.StrategyEmulate}, nil), "second set-strategy")

	for name, token := range map[string]uint32{
		"non-string method": fixture.Add,
		"internal method":   fixture.Internal,
		"not a token":       0x02000001,
	} {
		err := h.callErr(ipc.ActionDefineDecrypter, ipc.DefineDecrypterRequest{Token: token}, nil)
		requireUsage(t, err, name)
	}

	requireUsage(t, h.callErr(ipc.ActionDecrypt, ipc.DecryptRequest{Index: 3, Args: [][]any{{5}}}, nil), "unknown index")

	// A trap is a failure of the call, not misuse, and the worker keeps
	// serving.
	var trap ipc.DefineDecrypterResponse
	h.call(t, ipc.ActionDefineDecrypter, ipc.DefineDecrypterRequest{Token: fixture.Trap}, &trap)
	err := h.callErr(ipc.ActionDecrypt, ipc.DecryptRequest{Index: trap.Index, Args: [][]any{{}}}, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Errorf("trap: got %v (%T), want *service.ServiceError", err, err)
	}
	h.call(t, ipc.ActionDoNothing, nil, nil)
}

func TestLoadMalformedTarget(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", wasmtest.Decrypter(false).Binary[:20]},
		{"native executable", append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 60)...)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeModule(t, t.TempDir(), "bad.wasm", test.data)
			h := startWorker(t, ipc.StringDecrypter)

			err := h.callErr(ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil)
			var malformed *service.MalformedTargetError
			if !errors.As(err, &malformed) {
				t.Fatalf("load: got %v (%T), want *service.MalformedTargetError", err, err)
			}
			if malformed.Hint == "" || malformed.Path != path {
				t.Errorf("malformed target = %+v", malformed)
			}

			// The failed load does not count: a good module still loads.
			good := writeModule(t, t.TempDir(), "good.wasm", wasmtest.Decrypter(false).Binary)
			h.call(t, ipc.ActionLoad, ipc.LoadRequest{Path: good}, nil)
		})
	}
}

func TestLoadResolvesDependencyBesideTarget(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "helper.wasm", wasmtest.Dependency(42))
	path := writeModule(t, dir, "target.wasm", wasmtest.Importer("helper"))

	h := startWorker(t, ipc.Generic)
	h.call(t, ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil)
}

func TestLoadMissingDependencyFails(t *testing.T) {
	path := writeModule(t, t.TempDir(), "target.wasm", wasmtest.Importer("absent"))
	h := startWorker(t, ipc.Generic)
	if err := h.callErr(ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil); err == nil {
		t.Fatal("load with an unresolvable import succeeded")
	}
}

func TestMethodDecrypter(t *testing.T) {
	fixture := wasmtest.Obfuscator("")
	path := writeModule(t, t.TempDir(), "obfuscator.wasm", fixture.Binary)
	h := startWorker(t, ipc.MethodDecrypter)

	requireUsage(t, h.callErr(ipc.ActionLoadObfuscator, ipc.LoadRequest{Path: path}, nil), "load-obfuscator before install-hook")

	var can ipc.CanDecryptResponse
	h.call(t, ipc.ActionCanDecrypt, nil, &can)
	if can.CanDecrypt {
		t.Error("can-decrypt before install-hook")
	}

	h.call(t, ipc.ActionInstallHook, ipc.InstallHookRequest{}, nil)
	requireUsage(t, h.callErr(ipc.ActionInstallHook, ipc.InstallHookRequest{}, nil), "second install-hook")
	requireUsage(t, h.callErr(ipc.ActionDecryptAll, nil, nil), "decrypt-all before load")

	h.call(t, ipc.ActionLoadObfuscator, ipc.LoadRequest{Path: path}, nil)
	h.call(t, ipc.ActionCanDecrypt, nil, &can)
	if !can.CanDecrypt {
		t.Fatal("can-decrypt false after loading the obfuscator")
	}

	var all ipc.DecryptAllResponse
	h.call(t, ipc.ActionDecryptAll, nil, &all)
	if len(all.Methods) != 2 {
		t.Fatalf("decrypted %d methods, want 2: %+v", len(all.Methods), all.Methods)
	}
	first, second := all.Methods[0], all.Methods[1]
	if first.Token != fixture.MethodA || !bytes.Equal(first.Header, wasmtest.MethodAHeader) || !bytes.Equal(first.Body, wasmtest.MethodABody) {
		t.Errorf("method A = %+v", first)
	}
	if second.Token != fixture.MethodB || len(second.Header) != 0 || !bytes.Equal(second.Body, wasmtest.MethodBBody) {
		t.Errorf("method B = %+v", second)
	}
}

func TestMethodDecrypterRequestedTokens(t *testing.T) {
	fixture := wasmtest.Obfuscator("")
	path := writeModule(t, t.TempDir(), "obfuscator.wasm", fixture.Binary)
	h := startWorker(t, ipc.MethodDecrypter)

	info := ipc.DecryptMethodsInfo{Tokens: []uint32{fixture.MethodB, fixture.Initialize, fixture.MethodB}}
	h.call(t, ipc.ActionInstallHook, ipc.InstallHookRequest{Info: info}, nil)
	h.call(t, ipc.ActionLoadObfuscator, ipc.LoadRequest{Path: path}, nil)

	var all ipc.DecryptAllResponse
	h.call(t, ipc.ActionDecryptAll, nil, &all)
	if len(all.Methods) != 1 || all.Methods[0].Token != fixture.MethodB {
		t.Errorf("methods = %+v, want only method B", all.Methods)
	}
}

func TestMethodDecrypterWrongSignature(t *testing.T) {
	fixture := wasmtest.Obfuscator("method_a")
	path := writeModule(t, t.TempDir(), "obfuscator.wasm", fixture.Binary)
	h := startWorker(t, ipc.MethodDecrypter)

	h.call(t, ipc.ActionInstallHook, ipc.InstallHookRequest{}, nil)
	h.call(t, ipc.ActionLoadObfuscator, ipc.LoadRequest{Path: path}, nil)
	var can ipc.CanDecryptResponse
	h.call(t, ipc.ActionCanDecrypt, nil, &can)
	if can.CanDecrypt {
		t.Error("can-decrypt true for a decrypter with the wrong signature")
	}
	requireUsage(t, h.callErr(ipc.ActionDecryptAll, nil, nil), "decrypt-all without a decrypter")
}

func TestGenericInspect(t *testing.T) {
	fixture := wasmtest.Decrypter(true)
	path := writeModule(t, t.TempDir(), "target.wasm", fixture.Binary)
	h := startWorker(t, ipc.Generic)

	requireUsage(t, h.callErr(ipc.ActionDispatch, ipc.DispatchRequest{Message: extension.InspectDigest}, nil), "dispatch before load-extension")
	requireUsage(t, h.callErr(ipc.ActionLoadExtension, ipc.LoadExtensionRequest{Type: "missing"}, nil), "unknown extension")

	h.call(t, ipc.ActionLoadExtension, ipc.LoadExtensionRequest{Type: extension.InspectType}, nil)
	requireUsage(t, h.callErr(ipc.ActionLoadExtension, ipc.LoadExtensionRequest{Type: extension.InspectType}, nil), "second extension")
	requireUsage(t, h.callErr(ipc.ActionDispatch, ipc.DispatchRequest{Message: extension.InspectDigest}, nil), "dispatch before load")

	h.call(t, ipc.ActionLoad, ipc.LoadRequest{Path: path}, nil)

	var response ipc.DispatchResponse
	h.call(t, ipc.ActionDispatch, ipc.DispatchRequest{
		Message: extension.InspectCustomSection,
		Args:    []any{"defang.meta"},
	}, &response)
	if section, _ := response.Result.([]byte); string(section) != "fixture" {
		t.Errorf("custom section = %#v, want fixture", response.Result)
	}

	h.call(t, ipc.ActionDispatch, ipc.DispatchRequest{Message: extension.InspectExports}, &response)
	exports, ok := response.Result.([]any)
	if !ok || len(exports) != 9 {
		t.Errorf("exports = %#v, want 9 entries", response.Result)
	}
}

func TestExitStopsRun(t *testing.T) {
	h := startWorker(t, ipc.Generic)
	h.call(t, ipc.ActionExit, nil, nil)
	if err := testutil.RequireReceive(t, h.done, 5*time.Second, "Run did not return after exit"); err != nil {
		t.Errorf("Run: %v", err)
	}
	// Cleanup waits on done again; give it a value.
	h.done <- nil
}

func TestRunRejectsBadOptions(t *testing.T) {
	if err := Run(context.Background(), Options{ServiceType: ipc.Generic}); err == nil {
		t.Error("Run without an identity succeeded")
	}
	cfg := config.Default()
	cfg.RuntimeDir = testutil.SocketDir(t)
	err := Run(context.Background(), Options{
		ServiceType: ipc.ServiceType(9),
		Identity:    namegen.Identity(),
		Config:      cfg,
	})
	if err == nil {
		t.Error("Run with an unknown service type succeeded")
	}
}
