// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"errors"
	"slices"
	"testing"

	"github.com/tether-foundation/tether/lib/sshcred"
)

const hostLine = "203.0.113.9 ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func TestOptionsEmptyTrustRefused(t *testing.T) {
	options, err := Options(sshcred.DecodeHostTrust(""), "/tmp/kh", "", 22)
	if !errors.Is(err, ErrUntrustedHost) {
		t.Errorf("error = %v, want ErrUntrustedHost", err)
	}
	if options != nil {
		t.Errorf("options = %v, want none", options)
	}
}

func TestOptionsAgentMode(t *testing.T) {
	options, err := Options(sshcred.DecodeHostTrust(hostLine), "/run/user/0/kh", "", 2222)
	if err != nil {
		t.Fatalf("Options: %v", err)
	}

	want := []string{
		"-o", "StrictHostKeyChecking=yes",
		"-o", "UserKnownHostsFile=/run/user/0/kh",
		"-p", "2222",
		"-o", "PasswordAuthentication=no",
		"-o", "PubkeyAuthentication=yes",
		"-o", "PreferredAuthentications=publickey",
	}
	if !slices.Equal(options, want) {
		t.Errorf("options = %v, want %v", options, want)
	}
}

func TestOptionsFileModeAddsIdentity(t *testing.T) {
	options, err := Options(sshcred.DecodeHostTrust(hostLine), "/tmp/kh", "/tmp/key", 22)
	if err != nil {
		t.Fatalf("Options: %v", err)
	}

	index := slices.Index(options, "-i")
	if index < 0 || index+1 >= len(options) || options[index+1] != "/tmp/key" {
		t.Errorf("options missing identity file: %v", options)
	}
	if slices.Index(options, "StrictHostKeyChecking=yes") < 0 {
		t.Errorf("options missing strict checking: %v", options)
	}
}
