// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject NewFake() and advance time
// deterministically.
//
// Anything in this repository that sleeps, backs off, or waits out a
// grace period (token gate retry backoff, tunnel termination grace,
// agent spawn timeouts) takes a Clock instead of calling the time
// package directly.
package clock

import "time"

// Clock is the subset of the time package the tether core needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}
