// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"net"
	"strings"
	"testing"
)

func TestProbePortFreeAndBound(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	if ProbePort(port) {
		t.Errorf("ProbePort(%d) = true for a bound port", port)
	}

	listener.Close()
	if !ProbePort(port) {
		t.Errorf("ProbePort(%d) = false after release", port)
	}
}

func TestDecodeResponse(t *testing.T) {
	var decoded struct {
		Name string `json:"name"`
	}
	if err := DecodeResponse(strings.NewReader(`{"name":"edge-01"}`), &decoded); err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if decoded.Name != "edge-01" {
		t.Errorf("name = %q", decoded.Name)
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("boom")); got != "boom" {
		t.Errorf("ErrorBody = %q", got)
	}
}
