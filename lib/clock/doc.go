// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-dependent code run against either the wall
// clock or a deterministic test clock.
//
// Components that wait (the forwarding loop's idle poll, the close
// linger on an outbound connection, the peer's greeting timestamp)
// hold a Clock instead of calling the time package. Production wiring
// passes Real(); tests pass Fake() and move time forward explicitly:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	loop := bridge.NewLoop(queue, link, bridge.LoopConfig{Clock: fakeClock})
//	go loop.Run(ctx)
//	fakeClock.WaitForTimers(1)        // loop is parked on its poll timer
//	fakeClock.Advance(5 * time.Second) // wake it deterministically
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past it.
package clock
