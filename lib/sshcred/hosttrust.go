// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package sshcred

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/ssh"
)

// HostTrustEntry holds zero or more known_hosts-formatted lines
// asserting a remote host's public key, as delivered by the vault.
// An empty entry is representable — lib/trust decides whether that is
// acceptable (it is not, for live connections).
type HostTrustEntry struct {
	lines string
}

// DecodeHostTrust normalizes vault-delivered host trust material:
// line endings to Unix, trailing blank lines trimmed. A single token
// without spaces or newlines is treated as base64-wrapped and decoded
// (known_hosts lines always contain spaces); if the decode fails the
// input is used as-is. Empty input passes through unchanged.
func DecodeHostTrust(raw string) HostTrustEntry {
	entry := raw
	if entry != "" && !strings.ContainsAny(entry, " \n") {
		if decoded, err := base64.StdEncoding.DecodeString(entry); err == nil {
			entry = string(decoded)
		}
	}

	entry = strings.ReplaceAll(entry, "\r\n", "\n")
	entry = strings.ReplaceAll(entry, "\r", "\n")
	entry = strings.TrimRight(entry, "\n")

	return HostTrustEntry{lines: entry}
}

// IsEmpty reports whether the entry carries no trust lines.
func (e HostTrustEntry) IsEmpty() bool {
	return e.lines == ""
}

// String returns the normalized known_hosts lines without a trailing
// newline. Host trust entries are public data, safe to display.
func (e HostTrustEntry) String() string {
	return e.lines
}

// Lines returns the individual known_hosts lines. Empty for an empty
// entry.
func (e HostTrustEntry) Lines() []string {
	if e.lines == "" {
		return nil
	}
	return strings.Split(e.lines, "\n")
}

// Fingerprints parses each line as a known_hosts entry and returns
// the SHA256 fingerprints of the asserted host keys, for display in
// connect output and audit events. Unparseable lines are skipped —
// trust enforcement is the external SSH client's job, not ours.
func (e HostTrustEntry) Fingerprints() []string {
	var fingerprints []string
	for _, line := range e.Lines() {
		_, _, publicKey, _, _, err := ssh.ParseKnownHosts([]byte(line))
		if err != nil {
			continue
		}
		fingerprints = append(fingerprints, ssh.FingerprintSHA256(publicKey))
	}
	return fingerprints
}
