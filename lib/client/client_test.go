// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/defang/lib/clock"
	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/extension"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/loader"
	"github.com/bureau-foundation/defang/lib/namegen"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
	"github.com/bureau-foundation/defang/lib/testutil"
	"github.com/bureau-foundation/defang/lib/wasmtest"
)

// silentLoader starts nothing: the channel never becomes reachable.
type silentLoader struct {
	identity ipc.Identity

	mu       sync.Mutex
	starts   int
	disposes int
}

func newSilentLoader() *silentLoader {
	return &silentLoader{identity: namegen.Identity()}
}

func (l *silentLoader) Identity() ipc.Identity { return l.identity }

func (l *silentLoader) Start(context.Context) (ipc.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	return l.identity, nil
}

func (l *silentLoader) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposes++
}

func (l *silentLoader) disposeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposes
}

var defaultTiming = config.Timing{
	SettleDelay:    time.Second,
	ConnectTimeout: 2 * time.Second,
	PollInterval:   20 * time.Millisecond,
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RuntimeDir = testutil.SocketDir(t)
	return cfg
}

func TestWaitConnectedTimesOutOnFakeClock(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	workerLoader := newSilentLoader()
	c := New(workerLoader, ipc.StringDecrypter, Options{
		RuntimeDir: testutil.SocketDir(t),
		Timing:     defaultTiming,
		Clock:      fake,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != WaitingReady {
		t.Fatalf("state after Connect = %s", c.State())
	}

	done := make(chan error, 1)
	go func() { done <- c.WaitConnected(context.Background()) }()

	// Settle delay, then one poll interval per failed probe until the
	// connect timeout.
	fake.WaitForTimers(1)
	fake.Advance(defaultTiming.SettleDelay)
	polls := int((defaultTiming.ConnectTimeout - defaultTiming.SettleDelay) / defaultTiming.PollInterval)
	for i := 0; i < polls; i++ {
		fake.WaitForTimers(1)
		select {
		case err := <-done:
			t.Fatalf("WaitConnected returned after %d polls: %v", i, err)
		default:
		}
		fake.Advance(defaultTiming.PollInterval)
	}

	err := testutil.RequireReceive(t, done, 5*time.Second, "WaitConnected did not give up")
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("WaitConnected: %v, want *ConnectError", err)
	}
	if connectErr.Elapsed != defaultTiming.ConnectTimeout {
		t.Errorf("elapsed = %v, want exactly %v", connectErr.Elapsed, defaultTiming.ConnectTimeout)
	}
	if c.State() != WaitingReady {
		t.Errorf("state after failed wait = %s", c.State())
	}
}

func TestWaitConnectedTimesOutInRealTime(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full connect timeout")
	}
	c := New(newSilentLoader(), ipc.StringDecrypter, Options{
		RuntimeDir: testutil.SocketDir(t),
		Timing:     defaultTiming,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	started := time.Now()
	err := c.WaitConnected(context.Background())
	elapsed := time.Since(started)

	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("WaitConnected: %v, want *ConnectError", err)
	}
	if elapsed < defaultTiming.ConnectTimeout-50*time.Millisecond || elapsed > defaultTiming.ConnectTimeout+500*time.Millisecond {
		t.Errorf("WaitConnected gave up after %v, want about %v", elapsed, defaultTiming.ConnectTimeout)
	}
	c.Dispose(context.Background())
}

func TestWaitConnectedHonorsSettleDelay(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	cfg := testConfig(t)
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	workerLoader := loader.NewSameContext(loader.Options{ServiceType: ipc.Generic, Config: cfg})
	c := New(workerLoader, ipc.Generic, Options{RuntimeDir: cfg.RuntimeDir, Timing: defaultTiming, Clock: fake, Metrics: metrics})
	defer c.Dispose(context.Background())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- c.WaitConnected(context.Background()) }()

	fake.WaitForTimers(1)
	select {
	case err := <-done:
		t.Fatalf("WaitConnected returned before the settle delay: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The worker may still be binding after the settle delay; keep
	// advancing poll intervals until the probe lands.
	fake.Advance(defaultTiming.SettleDelay)
	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("WaitConnected: %v", err)
			}
			if c.State() != Ready {
				t.Errorf("state = %s, want ready", c.State())
			}
			requireCallTimedOnClock(t, c, registry)
			return
		case <-deadline:
			t.Fatal("WaitConnected never returned")
		case <-time.After(10 * time.Millisecond):
			if fake.PendingCount() > 0 {
				fake.Advance(defaultTiming.PollInterval)
			}
		}
	}
}

// requireCallTimedOnClock makes one call while the fake clock stands
// still and checks that the recorded duration is zero.
func requireCallTimedOnClock(t *testing.T, c *Client, registry *prometheus.Registry) {
	t.Helper()
	if err := c.DoNothing(context.Background()); err != nil {
		t.Fatalf("DoNothing: %v", err)
	}
	textfile := filepath.Join(t.TempDir(), "defang.prom")
	if err := prometheus.WriteToTextfile(textfile, registry); err != nil {
		t.Fatalf("WriteToTextfile: %v", err)
	}
	data, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	want := `defang_client_call_seconds_sum{action="` + ipc.ActionDoNothing + `"} 0`
	if !strings.Contains(string(data), want) {
		t.Errorf("metrics missing %q:\n%s", want, data)
	}
}

func TestPartialTimingTakesDefaults(t *testing.T) {
	defaults := config.Default().Client.Timing()
	tests := []struct {
		name   string
		timing config.Timing
		want   config.Timing
	}{
		{"zero", config.Timing{}, defaults},
		{
			"connect timeout only",
			config.Timing{ConnectTimeout: 300 * time.Millisecond},
			config.Timing{ConnectTimeout: 300 * time.Millisecond, PollInterval: defaults.PollInterval},
		},
		{
			"poll interval only",
			config.Timing{PollInterval: 5 * time.Millisecond},
			config.Timing{ConnectTimeout: defaults.ConnectTimeout, PollInterval: 5 * time.Millisecond},
		},
		{
			"negative poll interval",
			config.Timing{SettleDelay: -time.Second, ConnectTimeout: time.Second, PollInterval: -time.Millisecond},
			config.Timing{ConnectTimeout: time.Second, PollInterval: defaults.PollInterval},
		},
		{"complete", defaultTiming, defaultTiming},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := New(newSilentLoader(), ipc.StringDecrypter, Options{
				RuntimeDir: testutil.SocketDir(t),
				Timing:     test.timing,
			})
			if c.timing != test.want {
				t.Errorf("timing = %+v, want %+v", c.timing, test.want)
			}
			if c.timing.PollInterval <= 0 {
				t.Errorf("poll interval %v would busy-loop", c.timing.PollInterval)
			}
		})
	}
}

func TestDisposeInEveryState(t *testing.T) {
	ctx := context.Background()

	t.Run("never started", func(t *testing.T) {
		workerLoader := newSilentLoader()
		c := New(workerLoader, ipc.Generic, Options{RuntimeDir: testutil.SocketDir(t), Timing: defaultTiming})
		c.Dispose(ctx)
		c.Dispose(ctx)
		if c.State() != Disposed || workerLoader.disposeCount() != 1 {
			t.Errorf("state %s, loader disposed %d times", c.State(), workerLoader.disposeCount())
		}
		if err := c.Connect(ctx); err == nil {
			t.Error("Connect after Dispose succeeded")
		}
	})

	t.Run("started but not ready", func(t *testing.T) {
		workerLoader := newSilentLoader()
		c := New(workerLoader, ipc.Generic, Options{RuntimeDir: testutil.SocketDir(t), Timing: defaultTiming})
		if err := c.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		c.Dispose(ctx)
		if workerLoader.disposeCount() != 1 {
			t.Errorf("loader disposed %d times", workerLoader.disposeCount())
		}
		if err := c.WaitConnected(ctx); !errors.Is(err, ErrNotReady) {
			t.Errorf("WaitConnected after Dispose: %v, want ErrNotReady", err)
		}
	})

	t.Run("ready and already disposed", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Client.SettleDelay = "0s"
		factory := &Factory{Kind: loader.IsolatedContext, Config: cfg}
		c, err := factory.Connect(ctx, ipc.Generic)
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if c.State() != Ready {
			t.Fatalf("state = %s", c.State())
		}
		c.Dispose(ctx)
		c.Dispose(ctx)
		if err := c.DoNothing(ctx); !errors.Is(err, ErrNotReady) {
			t.Errorf("call after Dispose: %v, want ErrNotReady", err)
		}
	})
}

func TestCallsRequireReady(t *testing.T) {
	c := New(newSilentLoader(), ipc.StringDecrypter, Options{RuntimeDir: testutil.SocketDir(t), Timing: defaultTiming})
	proxy := &StringDecrypter{Client: c}
	if _, err := proxy.DefineDecrypter(context.Background(), 1); !errors.Is(err, ErrNotReady) {
		t.Errorf("DefineDecrypter before connect: %v, want ErrNotReady", err)
	}
}

func writeModule(t *testing.T, binary []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.wasm")
	if err := os.WriteFile(path, binary, 0o644); err != nil {
		t.Fatalf("writing module: %v", err)
	}
	return path
}

func TestIsolatedContextStringDecrypterScenario(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	factory := &Factory{Kind: loader.IsolatedContext, Config: cfg, Metrics: metrics}

	fixture := wasmtest.Decrypter(false)
	path := writeModule(t, fixture.Binary)

	decrypter, err := factory.StringDecrypter(ctx)
	if err != nil {
		t.Fatalf("StringDecrypter: %v", err)
	}
	if err := decrypter.Load(ctx, path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := decrypter.SetStrategy(ctx, ipc.StrategyEmulate); err != nil {
		t.Fatalf("SetStrategy: %v", err)
	}
	index, err := decrypter.DefineDecrypter(ctx, fixture.Decrypt)
	if err != nil {
		t.Fatalf("DefineDecrypter: %v", err)
	}
	results, err := decrypter.Decrypt(ctx, index, [][]any{{5}}, 0)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(results) != 1 || results[0].String() != wasmtest.ExpectedValue {
		t.Fatalf("results = %v, want [%s]", results, wasmtest.ExpectedValue)
	}

	started := time.Now()
	decrypter.Dispose(ctx)
	if elapsed := time.Since(started); elapsed > cfg.Loader.JoinTimeout()+500*time.Millisecond {
		t.Errorf("Dispose took %v, join window is %v", elapsed, cfg.Loader.JoinTimeout())
	}

	textfile := filepath.Join(t.TempDir(), "defang.prom")
	if err := prometheus.WriteToTextfile(textfile, registry); err != nil {
		t.Fatalf("WriteToTextfile: %v", err)
	}
	data, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	for _, want := range []string{
		`defang_client_connects_total{result="ok"} 1`,
		`defang_client_calls_total{action="decrypt",result="ok"} 1`,
		`defang_client_disposals_total 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics missing %q:\n%s", want, data)
		}
	}
}

func TestMethodAndGenericProxies(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Client.SettleDelay = "0s"
	factory := &Factory{Kind: loader.SameContext, Config: cfg}

	obfuscator := wasmtest.Obfuscator("")
	methods, err := factory.MethodDecrypter(ctx)
	if err != nil {
		t.Fatalf("MethodDecrypter: %v", err)
	}
	defer methods.Dispose(ctx)
	if err := methods.InstallHook(ctx, ipc.DecryptMethodsInfo{}); err != nil {
		t.Fatalf("InstallHook: %v", err)
	}
	if err := methods.LoadObfuscator(ctx, writeModule(t, obfuscator.Binary)); err != nil {
		t.Fatalf("LoadObfuscator: %v", err)
	}
	if ok, err := methods.CanDecrypt(ctx); err != nil || !ok {
		t.Fatalf("CanDecrypt = %v, %v", ok, err)
	}
	bodies, err := methods.DecryptAll(ctx)
	if err != nil || len(bodies) != 2 {
		t.Fatalf("DecryptAll = %v, %v", bodies, err)
	}

	generic, err := factory.Generic(ctx)
	if err != nil {
		t.Fatalf("Generic: %v", err)
	}
	defer generic.Dispose(ctx)
	if err := generic.LoadExtension(ctx, "inspect"); err != nil {
		t.Fatalf("LoadExtension: %v", err)
	}
	if err := generic.Load(ctx, writeModule(t, wasmtest.Decrypter(false).Binary)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	digest, err := generic.Dispatch(ctx, 3)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if raw, _ := digest.([]byte); len(raw) != 32 {
		t.Errorf("digest = %#v, want 32 bytes", digest)
	}

	var exports []extension.Export
	if err := generic.DispatchInto(ctx, extension.InspectExports, &exports); err != nil {
		t.Fatalf("DispatchInto: %v", err)
	}
	if len(exports) == 0 {
		t.Fatal("no exports listed")
	}
	for _, export := range exports {
		if export.Token>>24 != 0x06 || export.Name == "" {
			t.Errorf("export %+v has no method token or name", export)
		}
	}
}

// brokenExtension fails inside Dispatch with a runtime panic.
type brokenExtension struct {
	counts map[int]int
}

func (e *brokenExtension) Loaded(context.Context, *target.Module) error { return nil }

func (e *brokenExtension) Dispatch(ctx context.Context, message int, args []any) (any, error) {
	e.counts[message]++
	return nil, nil
}

func (e *brokenExtension) Close(context.Context) error { return nil }

func TestIsolatedContextSurvivesExtensionPanic(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Client.SettleDelay = "0s"
	registry := extension.NewRegistry()
	registry.Register("broken", func([]any) (extension.Extension, error) {
		return &brokenExtension{}, nil
	})
	factory := &Factory{Kind: loader.IsolatedContext, Config: cfg, Extensions: registry}

	generic, err := factory.Generic(ctx)
	if err != nil {
		t.Fatalf("Generic: %v", err)
	}
	defer generic.Dispose(ctx)
	if err := generic.LoadExtension(ctx, "broken"); err != nil {
		t.Fatalf("LoadExtension: %v", err)
	}

	_, err = generic.Dispatch(ctx, 1)
	var serviceError *service.ServiceError
	if !errors.As(err, &serviceError) || !strings.Contains(serviceError.Message, "panicked") {
		t.Fatalf("Dispatch error = %v, want a service error reporting the panic", err)
	}

	// The worker is still serving.
	if err := generic.DoNothing(ctx); err != nil {
		t.Errorf("DoNothing after panic: %v", err)
	}
	if state := generic.State(); state != Ready {
		t.Errorf("state = %v, want %v", state, Ready)
	}
}
