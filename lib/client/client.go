// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client drives one worker through its lifecycle: start it
// through a loader, wait until its channel answers, issue calls, and
// tear it down.
//
// A Client moves through Unconnected, Starting, WaitingReady, Ready
// and Disposed, in that order. Typed proxies for the three service
// types wrap a ready Client; a Factory builds them for an isolation
// kind.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/defang/lib/clock"
	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/loader"
	"github.com/bureau-foundation/defang/lib/service"
)

// State is a client's lifecycle state.
type State int

const (
	Unconnected State = iota
	Starting
	WaitingReady
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Starting:
		return "starting"
	case WaitingReady:
		return "waiting-ready"
	case Ready:
		return "ready"
	case Disposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrNotReady is returned by calls made outside the Ready state.
var ErrNotReady = errors.New("client is not connected")

// ConnectError reports a worker that did not answer within the
// connect timeout.
type ConnectError struct {
	Identity ipc.Identity
	Elapsed  time.Duration
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect to worker %s after %v: %v",
		e.Identity, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	// RuntimeDir is where the worker binds its channel.
	RuntimeDir string

	Timing  config.Timing
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// Client owns one worker.
type Client struct {
	loader      loader.WorkerLoader
	serviceType ipc.ServiceType
	runtimeDir  string
	timing      config.Timing
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics

	mu      sync.Mutex
	state   State
	started time.Time
	service *service.ServiceClient
}

// New returns an unconnected client for a worker of serviceType
// launched by workerLoader. A zero Timing takes the defaults. In a
// partial Timing, a zero ConnectTimeout or PollInterval takes its
// default and a zero SettleDelay means no settle delay.
func New(workerLoader loader.WorkerLoader, serviceType ipc.ServiceType, options Options) *Client {
	defaults := config.Default()
	timing := withTimingDefaults(options.Timing, defaults.Client.Timing())
	if options.RuntimeDir == "" {
		options.RuntimeDir = defaults.RuntimeDir
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Client{
		loader:      workerLoader,
		serviceType: serviceType,
		runtimeDir:  options.RuntimeDir,
		timing:      timing,
		clock:       options.Clock,
		logger:      options.Logger.With("channel", workerLoader.Identity().Name, "service", serviceType.String()),
		metrics:     options.Metrics,
	}
}

func withTimingDefaults(timing, defaults config.Timing) config.Timing {
	if timing == (config.Timing{}) {
		return defaults
	}
	if timing.ConnectTimeout <= 0 {
		timing.ConnectTimeout = defaults.ConnectTimeout
	}
	if timing.PollInterval <= 0 {
		timing.PollInterval = defaults.PollInterval
	}
	if timing.SettleDelay < 0 {
		timing.SettleDelay = 0
	}
	return timing
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity is the worker's channel identity.
func (c *Client) Identity() ipc.Identity { return c.loader.Identity() }

// ServiceType is the type of the hosted service.
func (c *Client) ServiceType() ipc.ServiceType { return c.serviceType }

// Connect starts the worker and records the start time. It does not
// wait for the worker to answer; see WaitConnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Unconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect in state %s", state)
	}
	c.state = Starting
	c.mu.Unlock()

	identity, err := c.loader.Start(ctx)
	if err != nil {
		c.metrics.connectFailed()
		return fmt.Errorf("starting worker: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Starting {
		// Disposed while the loader was starting.
		return ErrNotReady
	}
	c.service = service.NewServiceClient(c.runtimeDir, identity)
	c.started = c.clock.Now()
	c.state = WaitingReady
	c.logger.Debug("worker started, waiting for channel")
	return nil
}

// WaitConnected waits until the worker answers. It first sleeps out
// the settle delay, measured from the start time, then probes with
// do-nothing every poll interval. Once the connect timeout has passed
// since the start time it gives up with a *ConnectError. An error
// other than an unreachable channel ends the wait at once.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	state, started, channel := c.state, c.started, c.service
	c.mu.Unlock()
	switch state {
	case Ready:
		return nil
	case WaitingReady:
	default:
		return fmt.Errorf("wait-connected in state %s: %w", state, ErrNotReady)
	}

	if settle := c.timing.SettleDelay - c.clock.Now().Sub(started); settle > 0 {
		if err := c.sleep(ctx, settle); err != nil {
			return err
		}
	}

	for {
		remaining := c.timing.ConnectTimeout - c.clock.Now().Sub(started)
		err := c.probe(ctx, channel, remaining)
		if err == nil {
			break
		}
		var unreachable *service.UnreachableError
		if !errors.As(err, &unreachable) {
			c.metrics.connectFailed()
			return fmt.Errorf("probing worker: %w", err)
		}

		elapsed := c.clock.Now().Sub(started)
		if elapsed >= c.timing.ConnectTimeout {
			c.metrics.connectFailed()
			c.logger.Warn("worker did not become reachable", "elapsed", elapsed, "error", err)
			return &ConnectError{Identity: c.loader.Identity(), Elapsed: elapsed, Err: err}
		}
		if err := c.sleep(ctx, min(c.timing.PollInterval, c.timing.ConnectTimeout-elapsed)); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != WaitingReady {
		return ErrNotReady
	}
	c.state = Ready
	elapsed := c.clock.Now().Sub(started)
	c.metrics.connected(elapsed)
	c.logger.Info("worker ready", "elapsed", elapsed)
	return nil
}

// probe sends one do-nothing, bounded in real time by the remaining
// connect window so a worker that accepts but never answers cannot
// hold the wait open.
func (c *Client) probe(ctx context.Context, channel *service.ServiceClient, remaining time.Duration) error {
	if remaining < c.timing.PollInterval {
		remaining = c.timing.PollInterval
	}
	probeCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	err := channel.Call(probeCtx, ipc.ActionDoNothing, nil, nil)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &service.UnreachableError{Socket: channel.SocketPath(), Err: err}
	}
	return err
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose asks the worker to exit and disposes the loader. Channel
// failures and malformed responses from a worker that is already gone
// or mid-teardown are expected and ignored; nothing is returned.
// Calling Dispose again does nothing.
func (c *Client) Dispose(ctx context.Context) {
	c.mu.Lock()
	if c.state == Disposed {
		c.mu.Unlock()
		return
	}
	previous := c.state
	c.state = Disposed
	channel := c.service
	c.mu.Unlock()

	if channel != nil {
		exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timing.ConnectTimeout)
		err := channel.Call(exitCtx, ipc.ActionExit, nil, nil)
		cancel()
		switch {
		case err == nil:
		case service.IsTeardownTolerable(err), errors.Is(err, context.DeadlineExceeded):
			c.logger.Debug("exit not delivered", "state", previous.String(), "error", err)
		default:
			c.logger.Warn("exit failed", "state", previous.String(), "error", err)
		}
	}

	c.loader.Dispose()
	c.metrics.disposed()
	c.logger.Debug("client disposed", "state", previous.String())
}

// call runs one action on a ready client.
func (c *Client) call(ctx context.Context, action string, request, result any) error {
	c.mu.Lock()
	state, channel := c.state, c.service
	c.mu.Unlock()
	if state != Ready {
		return fmt.Errorf("%s in state %s: %w", action, state, ErrNotReady)
	}

	start := c.clock.Now()
	err := channel.Call(ctx, action, request, result)
	c.metrics.observeCall(action, c.clock.Now().Sub(start), err)
	return err
}
