// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/process"
)

// Handle is an established set of SSH authentication artifacts: the
// known-hosts file, the key file or agent, and the client options
// that pin verification to them.
//
// Exactly one party owns a Handle's artifacts at a time. The creator
// owns them until Release or Detach. Release tears everything down
// and is safe to defer on every exit path; Detach transfers ownership
// (typically to a tunnel record that outlives the CLI process) and
// makes the subsequent Release a no-op.
type Handle struct {
	// Method records how the key is held: MethodAgent or MethodFile.
	Method Method

	// AgentPID and AgentSocket identify the dedicated ssh-agent.
	// Zero/empty in file mode.
	AgentPID    int
	AgentSocket string

	// KeyFile is the 0600 identity file. Empty in agent mode.
	KeyFile string

	// KnownHostsFile carries the host trust entry. Always set, even
	// when the trust entry itself was refused earlier; the file may be
	// empty so the client can persist a learned key for the invocation.
	KnownHostsFile string

	// Options are the verified-connection client options from
	// lib/trust, ready to splice into an ssh argv.
	Options []string

	clk      clock.Clock
	dir      string
	mu       sync.Mutex
	released bool
	detached bool
}

// Env returns the environment additions the SSH client needs for this
// handle. Empty in file mode.
func (h *Handle) Env() []string {
	if h.Method != MethodAgent {
		return nil
	}
	return []string{"SSH_AUTH_SOCK=" + h.AgentSocket}
}

// Release tears down the handle's artifacts: the agent process (if
// any) and the artifact directory. Idempotent, and a no-op after
// Detach. Errors are joined and reported, but by then everything
// removable has been removed.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.detached {
		return nil
	}
	h.released = true

	var errs []error
	if h.AgentPID > 0 {
		if !process.TerminateWithGrace(h.clk, h.AgentPID, 100*time.Millisecond) {
			errs = append(errs, errors.New("ssh-agent survived SIGKILL"))
		}
	}
	if h.dir != "" {
		if err := os.RemoveAll(h.dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Detach transfers artifact ownership to the caller and returns the
// artifact directory the new owner must eventually remove. After
// Detach, Release does nothing — the deferred cleanup in the
// establishing code path becomes inert.
func (h *Handle) Detach() (dir string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
	return h.dir
}
