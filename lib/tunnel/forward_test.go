// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestParseOpenSSHVersion(t *testing.T) {
	tests := []struct {
		output string
		major  int
		minor  int
	}{
		{"OpenSSH_8.9p1 Ubuntu-3ubuntu0.6, OpenSSL 3.0.2 15 Mar 2022", 8, 9},
		{"OpenSSH_6.6.1p1, OpenSSL 1.0.1f 6 Jan 2014", 6, 6},
		{"OpenSSH_9.0p1, LibreSSL 3.3.6", 9, 0},
		{"OpenSSH_10.2p1", 10, 2},
	}
	for _, test := range tests {
		major, minor, err := ParseOpenSSHVersion(test.output)
		if err != nil {
			t.Errorf("ParseOpenSSHVersion(%q): %v", test.output, err)
			continue
		}
		if major != test.major || minor != test.minor {
			t.Errorf("ParseOpenSSHVersion(%q) = %d.%d, want %d.%d",
				test.output, major, minor, test.major, test.minor)
		}
	}
}

func TestParseOpenSSHVersionGarbage(t *testing.T) {
	if _, _, err := ParseOpenSSHVersion("ssh: command not found"); err == nil {
		t.Error("expected error for unparseable output")
	}
}

func TestSupportsUnixForwarding(t *testing.T) {
	tests := []struct {
		major, minor int
		want         bool
	}{
		{6, 6, false},
		{6, 7, true},
		{6, 9, true},
		{7, 0, true},
		{5, 9, false},
		{10, 0, true},
	}
	for _, test := range tests {
		if got := SupportsUnixForwarding(test.major, test.minor); got != test.want {
			t.Errorf("SupportsUnixForwarding(%d, %d) = %v, want %v",
				test.major, test.minor, got, test.want)
		}
	}
}

func fakeProbe(version string, hasSocat bool) Probe {
	return Probe{
		LocalVersion:   func(context.Context) (string, error) { return version, nil },
		RemoteHasSocat: func(context.Context) (bool, error) { return hasSocat, nil },
	}
}

func TestSelectStrategy(t *testing.T) {
	ctx := context.Background()

	kind, err := SelectStrategy(ctx, fakeProbe("OpenSSH_8.9p1", false))
	if err != nil || kind != KindNative {
		t.Errorf("modern client: kind=%q err=%v, want native", kind, err)
	}

	kind, err = SelectStrategy(ctx, fakeProbe("OpenSSH_6.6p1", true))
	if err != nil || kind != KindBridge {
		t.Errorf("old client with socat: kind=%q err=%v, want bridge", kind, err)
	}

	_, err = SelectStrategy(ctx, fakeProbe("OpenSSH_6.6p1", false))
	if !errors.Is(err, ErrForwardingUnsupported) {
		t.Errorf("old client without socat: err=%v, want ErrForwardingUnsupported", err)
	}
}

func testSpec() ForwardSpec {
	return ForwardSpec{
		LocalPort:    7111,
		RemoteSocket: "/var/run/tether/abc/plugins/pg.sock",
		Destination:  "deploy@edge-01",
		ControlPath:  "/run/user/0/tether/ctl-deadbeef",
		Options:      []string{"-o", "StrictHostKeyChecking=yes"},
	}
}

func TestNativeArgs(t *testing.T) {
	args := testSpec().NativeArgs()

	want := []string{
		"-N", "-f",
		"-o", "ControlMaster=auto",
		"-o", "ControlPath=/run/user/0/tether/ctl-deadbeef",
		"-o", "ControlPersist=10m",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "StrictHostKeyChecking=yes",
		"-L", "localhost:7111:/var/run/tether/abc/plugins/pg.sock",
		"deploy@edge-01",
	}
	if !slices.Equal(args, want) {
		t.Errorf("NativeArgs = %v, want %v", args, want)
	}
}

func TestBridgeArgs(t *testing.T) {
	args := testSpec().BridgeArgs(17111)

	if slices.Contains(args, "-N") {
		t.Errorf("bridge args carry -N alongside a remote command: %v", args)
	}
	if !slices.Contains(args, "localhost:7111:localhost:17111") {
		t.Errorf("bridge args missing TCP forward: %v", args)
	}
	remote := args[len(args)-1]
	if remote != "socat TCP-LISTEN:17111,bind=localhost,reuseaddr,fork UNIX-CONNECT:/var/run/tether/abc/plugins/pg.sock" {
		t.Errorf("remote command = %q", remote)
	}
	if args[len(args)-2] != "deploy@edge-01" {
		t.Errorf("destination misplaced: %v", args)
	}
}

func TestParseMasterPID(t *testing.T) {
	pid, err := ParseMasterPID("Master running (pid=4242)\r\n")
	if err != nil {
		t.Fatalf("ParseMasterPID: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}

	if _, err := ParseMasterPID("Control socket connect: no such file"); err == nil {
		t.Error("expected error when no pid present")
	}
}
