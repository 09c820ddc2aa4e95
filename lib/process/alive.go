// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers and process
// liveness/termination primitives for tether binaries.
//
// Tunnel processes outlive the CLI invocation that started them, so
// the registry tracks raw process IDs and probes them with a signal-0
// liveness check on the next invocation. All platform-specific
// process handling is isolated here; callers only see Alive and
// TerminateWithGrace.
package process

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tether-foundation/tether/lib/clock"
)

// ParsePID parses a decimal process ID from subprocess output,
// rejecting non-positive values.
func ParsePID(s string) (int, error) {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", s, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	return pid, nil
}

// Alive reports whether a process with the given pid exists. It sends
// signal 0, which performs permission and existence checks without
// delivering a signal. EPERM means the process exists but belongs to
// another user — still alive for registry purposes.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// TerminateWithGrace asks the process to exit with SIGTERM, waits out
// the grace period on clk, and escalates to SIGKILL if the process is
// still alive. Returns true if the process is gone when the function
// returns; false if it survived SIGKILL (unkillable — e.g. stuck in
// uninterruptible sleep), which callers treat as a warning, never a
// command failure.
func TerminateWithGrace(clk clock.Clock, pid int, grace time.Duration) bool {
	if !Alive(pid) {
		return true
	}

	// Ignore send errors: the process may exit between the liveness
	// probe and the signal.
	_ = unix.Kill(pid, unix.SIGTERM)
	clk.Sleep(grace)

	if !Alive(pid) {
		return true
	}

	_ = unix.Kill(pid, unix.SIGKILL)
	clk.Sleep(50 * time.Millisecond)
	return !Alive(pid)
}
