// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
)

func TestAliveSelf(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(self) = false")
	}
}

func TestAliveInvalidPids(t *testing.T) {
	for _, pid := range []int{0, -1} {
		if Alive(pid) {
			t.Errorf("Alive(%d) = true", pid)
		}
	}
}

func TestAliveExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("running true: %v", err)
	}
	// The child has been reaped; its pid no longer exists (modulo
	// pid reuse, which is vanishingly unlikely inside one test).
	if Alive(cmd.Process.Pid) {
		t.Errorf("Alive(exited pid %d) = true", cmd.Process.Pid)
	}
}

func TestTerminateWithGraceStopsSleeper(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	pid := cmd.Process.Pid

	// Reap in the background: a terminated child would otherwise
	// linger as a zombie and still answer the signal-0 probe. Real
	// tunnel processes are daemonized, never our children.
	reaped := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(reaped)
	}()

	done := TerminateWithGrace(clock.Real(), pid, 200*time.Millisecond)
	if !done {
		t.Errorf("TerminateWithGrace(%d) = false", pid)
	}

	<-reaped
	if Alive(pid) {
		t.Errorf("process %d still alive after termination", pid)
	}
}

func TestTerminateWithGraceDeadPid(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("running true: %v", err)
	}
	if !TerminateWithGrace(clock.Real(), cmd.Process.Pid, 10*time.Millisecond) {
		t.Error("TerminateWithGrace on dead pid = false")
	}
}
