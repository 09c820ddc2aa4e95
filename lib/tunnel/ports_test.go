// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"errors"
	"net"
	"testing"
)

func TestAllocatePortPreferred(t *testing.T) {
	port, err := AllocatePort(7500, DefaultPortRange, func(int) bool { return true })
	if err != nil {
		t.Fatalf("AllocatePort: %v", err)
	}
	if port != 7500 {
		t.Errorf("port = %d, want 7500", port)
	}
}

func TestAllocatePortPreferredOccupied(t *testing.T) {
	_, err := AllocatePort(7500, DefaultPortRange, func(int) bool { return false })
	if !errors.Is(err, ErrPortUnavailable) {
		t.Errorf("error = %v, want ErrPortUnavailable", err)
	}
}

func TestAllocatePortScansPastOccupied(t *testing.T) {
	// 7111 through 7115 taken: the scan lands on 7116.
	port, err := AllocatePort(0, DefaultPortRange, func(p int) bool { return p > 7115 })
	if err != nil {
		t.Fatalf("AllocatePort: %v", err)
	}
	if port != 7116 {
		t.Errorf("port = %d, want 7116", port)
	}
}

func TestAllocatePortRangeExhausted(t *testing.T) {
	_, err := AllocatePort(0, PortRange{First: 7111, Last: 7113}, func(int) bool { return false })
	if !errors.Is(err, ErrNoPortsAvailable) {
		t.Errorf("error = %v, want ErrNoPortsAvailable", err)
	}
}

func TestAllocatePortRealProbe(t *testing.T) {
	// Hold a real port and ask for it explicitly.
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	held := listener.Addr().(*net.TCPAddr).Port

	if _, err := AllocatePort(held, DefaultPortRange, nil); !errors.Is(err, ErrPortUnavailable) {
		t.Errorf("error = %v, want ErrPortUnavailable for held port %d", err, held)
	}
}
