// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by the bridge.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Callers that
	// wait on a timer inside a select should Stop it when another case
	// wins, so that abandoned timers do not accumulate.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single-shot timer. Read the firing time from C.
type Timer struct {
	// C receives the time when the timer fires. Buffered with
	// capacity 1.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the timer from firing. It returns false if the timer
// already fired or was already stopped. Stop does not drain C.
func (t *Timer) Stop() bool { return t.stopFunc() }
