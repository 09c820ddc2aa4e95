// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel manages background SSH tunnel processes that outlive
// the CLI invocation that started them: local port allocation,
// forwarding strategy selection, and a file-backed registry keyed by
// connection ID.
package tunnel

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Scope identifies what a tunnel connects to: a plugin socket on a
// repository hosted by a machine belonging to a team.
type Scope struct {
	Team       string `json:"team"`
	Machine    string `json:"machine"`
	Repository string `json:"repository"`
	Plugin     string `json:"plugin"`
}

// Artifacts are the on-disk leftovers a tunnel owns: the control
// socket and the detached session directory (key file, known-hosts
// file). All are removed best-effort on termination.
type Artifacts struct {
	ControlPath string `json:"control_path,omitempty"`
	SessionDir  string `json:"session_dir,omitempty"`
}

// ProcessRef pins the operating-system processes behind a tunnel. PID
// is the forwarding process (ssh or socat); AgentPID, when non-zero,
// is the dedicated ssh-agent holding the key, reaped together with
// the tunnel.
type ProcessRef struct {
	PID      int `json:"pid"`
	AgentPID int `json:"agent_pid,omitempty"`
}

// Record is one registered tunnel.
type Record struct {
	ID          string     `json:"id"`
	Scope       Scope      `json:"scope"`
	Destination string     `json:"destination"`
	Port        int        `json:"port"`
	Strategy    Kind       `json:"strategy"`
	Process     ProcessRef `json:"process"`
	Artifacts   Artifacts  `json:"artifacts"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Filter selects records by scope. Empty fields match everything.
type Filter struct {
	Team       string
	Machine    string
	Repository string
	Plugin     string
}

// Matches reports whether the record's scope satisfies the filter.
func (f Filter) Matches(r Record) bool {
	return (f.Team == "" || f.Team == r.Scope.Team) &&
		(f.Machine == "" || f.Machine == r.Scope.Machine) &&
		(f.Repository == "" || f.Repository == r.Scope.Repository) &&
		(f.Plugin == "" || f.Plugin == r.Scope.Plugin)
}

// NewConnectionID derives a short stable identifier for a tunnel from
// its scope and creation instant. Eight hex characters is enough to
// tell concurrent tunnels apart in CLI output while staying typeable.
// Callers mint the ID before launching the tunnel process because the
// control socket path embeds it.
func NewConnectionID(scope Scope, createdAt time.Time) string {
	sum := blake3.Sum256(fmt.Appendf(nil, "%s:%s:%s:%s:%d",
		scope.Team, scope.Machine, scope.Repository, scope.Plugin, createdAt.UnixNano()))
	return hex.EncodeToString(sum[:4])
}
