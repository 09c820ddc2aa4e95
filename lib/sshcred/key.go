// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package sshcred decodes and normalizes SSH credential material
// delivered as plain text from the control plane's vault: private keys
// and known_hosts host-trust entries.
//
// Both decoders are pure — no file I/O, no subprocesses. Turning the
// decoded material into something an SSH client can consume (temp
// files, an agent) is lib/session's job.
package sshcred

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/tether-foundation/tether/lib/secret"
)

// ErrInvalidKeyFormat reports private-key material that cannot be a
// usable SSH key: empty input, missing PEM BEGIN/END armor, or an
// unrecognized key-type marker. Never retried — it indicates bad
// vault content upstream.
var ErrInvalidKeyFormat = errors.New("invalid SSH key format")

// keyTypeMarkers are the PEM type labels accepted as SSH private keys.
var keyTypeMarkers = []string{
	"RSA PRIVATE KEY",
	"DSA PRIVATE KEY",
	"EC PRIVATE KEY",
	"OPENSSH PRIVATE KEY",
	"PRIVATE KEY",
}

// Credential is a decoded, normalized SSH private key. The PEM text
// lives in an mlock'd secret buffer and is immutable once decoded.
// The owner must call Close when the key is no longer needed.
type Credential struct {
	pem *secret.Buffer
}

// DecodeKey decodes and normalizes vault-delivered private key
// material. Bare base64 input (no armor, no newlines) is decoded
// first — the vault may deliver keys base64-wrapped for transport.
// Line endings are normalized to Unix and the result carries exactly
// one trailing newline, as OpenSSH requires.
//
// Fails wrapping ErrInvalidKeyFormat when the input is empty, lacks a
// PEM BEGIN/END pair, or none of the recognized key-type markers is
// present.
func DecodeKey(raw string) (*Credential, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty key material", ErrInvalidKeyFormat)
	}

	key := raw
	if !strings.HasPrefix(key, "-----BEGIN") && !strings.Contains(key, "\n") {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("%w: bare input is not valid base64: %v", ErrInvalidKeyFormat, err)
		}
		key = string(decoded)
	}

	key = strings.ReplaceAll(key, "\r\n", "\n")
	key = strings.ReplaceAll(key, "\r", "\n")
	key = strings.TrimRight(key, "\n") + "\n"

	if !strings.Contains(key, "-----BEGIN") || !strings.Contains(key, "-----END") {
		return nil, fmt.Errorf("%w: missing PEM BEGIN/END markers", ErrInvalidKeyFormat)
	}

	recognized := false
	for _, marker := range keyTypeMarkers {
		if strings.Contains(key, marker) {
			recognized = true
			break
		}
	}
	if !recognized {
		return nil, fmt.Errorf("%w: key type not recognized (supported: RSA, DSA, EC, OpenSSH, PKCS#8)", ErrInvalidKeyFormat)
	}

	buffer, err := secret.NewFromString(key)
	if err != nil {
		return nil, fmt.Errorf("storing key material: %w", err)
	}
	return &Credential{pem: buffer}, nil
}

// PEM returns the normalized PEM text. The slice points into locked
// memory owned by the Credential — do not retain it past Close.
func (c *Credential) PEM() []byte {
	return c.pem.Bytes()
}

// String implements fmt.Stringer with a redacted placeholder. The key
// is never logged in full.
func (c *Credential) String() string {
	return "ssh-credential(REDACTED)"
}

// Close releases the locked key memory. Idempotent.
func (c *Credential) Close() error {
	return c.pem.Close()
}
