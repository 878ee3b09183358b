// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for the
// connection and teardown paths.
//
// The client's connect phase is a sleep-and-poll loop with a hard
// deadline, and the loaders wait a bounded time for workers to exit.
// Both are easy to get wrong and slow to test against the wall clock.
// Production code takes a Clock; tests pass Fake() and move time
// forward explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go client.WaitConnected(ctx)
//	c.WaitForTimers(1)               // the poll loop is sleeping
//	c.Advance(20 * time.Millisecond) // wake it deterministically
package clock
