// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// ErrForwardingUnsupported reports that neither forwarding strategy
// can work: the local OpenSSH predates unix socket forwarding and the
// remote host has no socat to bridge with.
var ErrForwardingUnsupported = errors.New("no usable forwarding strategy: upgrade local OpenSSH to 6.7 or later, or install socat on the remote host")

// Kind identifies the forwarding strategy carried by a tunnel.
type Kind string

const (
	// KindNative forwards the remote unix socket directly with ssh -L,
	// available since OpenSSH 6.7.
	KindNative Kind = "native"

	// KindBridge runs socat on the remote host to expose the unix
	// socket on a loopback TCP port, then forwards that port.
	KindBridge Kind = "bridge"
)

var openSSHVersionPattern = regexp.MustCompile(`OpenSSH_(\d+)\.(\d+)`)

// ParseOpenSSHVersion extracts the major and minor version from ssh -V
// output, e.g. "OpenSSH_8.9p1 Ubuntu-3ubuntu0.6, OpenSSL 3.0.2".
func ParseOpenSSHVersion(output string) (major, minor int, err error) {
	match := openSSHVersionPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, 0, fmt.Errorf("unrecognized ssh version output: %q", output)
	}
	major, _ = strconv.Atoi(match[1])
	minor, _ = strconv.Atoi(match[2])
	return major, minor, nil
}

// SupportsUnixForwarding reports whether an OpenSSH version can
// forward unix domain sockets with -L (introduced in 6.7).
func SupportsUnixForwarding(major, minor int) bool {
	return major > 6 || (major == 6 && minor >= 7)
}

// Probe supplies the environment facts strategy selection needs.
// Tests substitute the functions; production wiring runs ssh.
type Probe struct {
	// LocalVersion returns ssh -V output for the local client.
	LocalVersion func(ctx context.Context) (string, error)

	// RemoteHasSocat reports whether socat is on the remote PATH,
	// checked over the already-established session.
	RemoteHasSocat func(ctx context.Context) (bool, error)
}

// NewProbe builds a Probe that shells out to the given ssh binary,
// reusing an established session's options for the remote check.
func NewProbe(sshBinary, destination string, options []string) Probe {
	return Probe{
		LocalVersion: func(ctx context.Context) (string, error) {
			// ssh -V prints to stderr.
			output, err := exec.CommandContext(ctx, sshBinary, "-V").CombinedOutput()
			if err != nil {
				return "", fmt.Errorf("probing ssh version: %w", err)
			}
			return string(output), nil
		},
		RemoteHasSocat: func(ctx context.Context) (bool, error) {
			args := append(append([]string{}, options...), destination, "command -v socat")
			return exec.CommandContext(ctx, sshBinary, args...).Run() == nil, nil
		},
	}
}

// SelectStrategy picks the forwarding strategy: native when the local
// client is new enough, otherwise bridge when the remote has socat,
// otherwise ErrForwardingUnsupported.
func SelectStrategy(ctx context.Context, probe Probe) (Kind, error) {
	version, err := probe.LocalVersion(ctx)
	if err != nil {
		return "", err
	}
	major, minor, err := ParseOpenSSHVersion(version)
	if err != nil {
		return "", err
	}
	if SupportsUnixForwarding(major, minor) {
		return KindNative, nil
	}

	hasSocat, err := probe.RemoteHasSocat(ctx)
	if err != nil {
		return "", err
	}
	if hasSocat {
		return KindBridge, nil
	}
	return "", ErrForwardingUnsupported
}

// ForwardSpec describes one tunnel's endpoints, independent of
// strategy. The argv builders are pure so tests can assert the exact
// command lines.
type ForwardSpec struct {
	// LocalPort is the allocated loopback port.
	LocalPort int

	// RemoteSocket is the plugin's unix socket path on the remote host.
	RemoteSocket string

	// Destination is user@host.
	Destination string

	// ControlPath is the ControlMaster socket for this tunnel, used
	// later for -O check and -O stop.
	ControlPath string

	// Options are the verified-connection client options from the
	// session handle.
	Options []string
}

// controlArgs are shared by both strategies: one master per tunnel,
// kept alive for reconnects, failing fast if the forward itself
// cannot be set up.
func (s ForwardSpec) controlArgs() []string {
	return []string{
		"-o", "ControlMaster=auto",
		"-o", "ControlPath=" + s.ControlPath,
		"-o", "ControlPersist=10m",
		"-o", "ExitOnForwardFailure=yes",
	}
}

// NativeArgs returns ssh arguments forwarding the unix socket
// directly. The process backgrounds itself after authentication (-f)
// and carries no remote command (-N).
func (s ForwardSpec) NativeArgs() []string {
	args := []string{"-N", "-f"}
	args = append(args, s.controlArgs()...)
	args = append(args, s.Options...)
	args = append(args,
		"-L", fmt.Sprintf("localhost:%d:%s", s.LocalPort, s.RemoteSocket),
		s.Destination,
	)
	return args
}

// BridgeArgs returns ssh arguments for the socat fallback: the remote
// command bridges a remote loopback TCP port to the unix socket, and
// -L forwards the local port to that bridge. No -N since the bridge
// is the remote command.
func (s ForwardSpec) BridgeArgs(remotePort int) []string {
	args := []string{"-f"}
	args = append(args, s.controlArgs()...)
	args = append(args, s.Options...)
	args = append(args,
		"-L", fmt.Sprintf("localhost:%d:localhost:%d", s.LocalPort, remotePort),
		s.Destination,
		fmt.Sprintf("socat TCP-LISTEN:%d,bind=localhost,reuseaddr,fork UNIX-CONNECT:%s", remotePort, s.RemoteSocket),
	)
	return args
}

// CheckArgs returns ssh arguments asking the control master for its
// pid (-O check prints "Master running (pid=N)").
func (s ForwardSpec) CheckArgs() []string {
	return []string{"-O", "check", "-o", "ControlPath=" + s.ControlPath, s.Destination}
}

var masterPIDPattern = regexp.MustCompile(`pid=(\d+)`)

// ParseMasterPID extracts the control master's pid from ssh -O check
// output.
func ParseMasterPID(output string) (int, error) {
	match := masterPIDPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, fmt.Errorf("no pid in control master check output: %q", output)
	}
	return strconv.Atoi(match[1])
}
