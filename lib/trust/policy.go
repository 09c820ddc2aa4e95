// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust composes the SSH client options that enforce strict
// host-key verification. Every connection the session layer makes goes
// through Options — there is deliberately no way to request a relaxed
// variant.
package trust

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tether-foundation/tether/lib/sshcred"
)

// ErrUntrustedHost reports a connection attempt against a host with no
// trust material on record. The remedy is registering the host's key
// with the control plane, not bypassing verification.
var ErrUntrustedHost = errors.New("no host trust entry for remote host")

// Options returns the ssh command-line options for a verified
// connection: strict host-key checking pinned to knownHostsPath,
// public-key authentication only, and the remote port. identityFile is
// included with -i when non-empty (file-mode sessions; agent-mode
// sessions pass ""). Fails wrapping ErrUntrustedHost when the trust
// entry is empty.
func Options(entry sshcred.HostTrustEntry, knownHostsPath, identityFile string, port int) ([]string, error) {
	if entry.IsEmpty() {
		return nil, fmt.Errorf("%w: register the host key before connecting", ErrUntrustedHost)
	}

	options := []string{
		"-o", "StrictHostKeyChecking=yes",
		"-o", "UserKnownHostsFile=" + knownHostsPath,
		"-p", strconv.Itoa(port),
		"-o", "PasswordAuthentication=no",
		"-o", "PubkeyAuthentication=yes",
		"-o", "PreferredAuthentications=publickey",
	}
	if identityFile != "" {
		options = append(options, "-i", identityFile)
	}
	return options, nil
}
