// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tokenstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileRoundTrip(t *testing.T) {
	store := NewFile(filepath.Join(t.TempDir(), "state", "token.json"))

	token, err := store.Current()
	if err != nil {
		t.Fatalf("Current on missing file: %v", err)
	}
	if token != "" {
		t.Errorf("Current = %q, want empty", token)
	}

	if err := store.Set("tok-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	token, err = store.Current()
	if err != nil || token != "tok-1" {
		t.Errorf("Current = %q, %v", token, err)
	}

	info, err := os.Stat(store.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %o, want 600", info.Mode().Perm())
	}
}

func TestFileCompareAndSwap(t *testing.T) {
	store := NewFile(filepath.Join(t.TempDir(), "token.json"))
	if err := store.Set("tok-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	swapped, err := store.CompareAndSwap("tok-1", "tok-2")
	if err != nil || !swapped {
		t.Fatalf("CompareAndSwap = %v, %v", swapped, err)
	}

	// Stale old value loses.
	swapped, err = store.CompareAndSwap("tok-1", "tok-3")
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if swapped {
		t.Error("stale CompareAndSwap succeeded")
	}
	if token, _ := store.Current(); token != "tok-2" {
		t.Errorf("Current = %q, want tok-2", token)
	}
}

func TestFileClear(t *testing.T) {
	store := NewFile(filepath.Join(t.TempDir(), "token.json"))
	if err := store.Set("tok-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if token, _ := store.Current(); token != "" {
		t.Errorf("Current after Clear = %q", token)
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestFileEncrypted(t *testing.T) {
	store := NewFile(filepath.Join(t.TempDir(), "token.json"))
	store.Passphrase = "correct horse battery staple"

	if err := store.Set("tok-secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(store.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(raw), ageHeader) {
		t.Fatalf("token file not encrypted: %q", raw[:min(len(raw), 40)])
	}
	if strings.Contains(string(raw), "tok-secret") {
		t.Error("token visible in encrypted file")
	}

	token, err := store.Current()
	if err != nil || token != "tok-secret" {
		t.Errorf("Current = %q, %v", token, err)
	}

	// Without the passphrase the store refuses rather than returning
	// garbage.
	locked := NewFile(store.Path)
	if _, err := locked.Current(); err == nil {
		t.Error("expected error reading encrypted file without passphrase")
	}
}
