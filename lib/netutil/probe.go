// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"net"
)

// ProbePort tests whether a local TCP port can be bound on localhost
// by binding and immediately releasing it. The port is NOT reserved:
// another process can grab it between the probe and the caller's own
// bind. Callers must bind promptly and treat a later bind failure as
// the authoritative answer.
func ProbePort(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
