// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"errors"
	"fmt"

	"github.com/tether-foundation/tether/lib/netutil"
)

// ErrPortUnavailable reports that an explicitly requested local port
// could not be bound. The caller asked for that specific port; no
// substitute is offered.
var ErrPortUnavailable = errors.New("requested port unavailable")

// ErrNoPortsAvailable reports that the entire allocation range was
// exhausted.
var ErrNoPortsAvailable = errors.New("no ports available in allocation range")

// PortRange is the inclusive local port range tunnels allocate from.
type PortRange struct {
	First int
	Last  int
}

// DefaultPortRange is the allocation range when none is configured.
var DefaultPortRange = PortRange{First: 7111, Last: 9111}

// AllocatePort picks a bindable local port. When preferred is
// non-zero it is the only candidate: if it cannot be bound the call
// fails wrapping ErrPortUnavailable. Otherwise the range is scanned
// ascending and the first bindable port wins, or ErrNoPortsAvailable
// when the whole range is occupied.
//
// The probe binds and immediately releases the port, so another
// process can grab it before the tunnel does. The window is accepted:
// the tunnel's own bind fails loudly and the operator retries.
func AllocatePort(preferred int, portRange PortRange, probe func(port int) bool) (int, error) {
	if probe == nil {
		probe = netutil.ProbePort
	}

	if preferred != 0 {
		if !probe(preferred) {
			return 0, fmt.Errorf("%w: port %d", ErrPortUnavailable, preferred)
		}
		return preferred, nil
	}

	for port := portRange.First; port <= portRange.Last; port++ {
		if probe(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: %d-%d", ErrNoPortsAvailable, portRange.First, portRange.Last)
}
