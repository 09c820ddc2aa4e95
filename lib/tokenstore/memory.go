// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokenstore persists the control plane's rotating request
// token. The file-backed store is what the CLI uses; the memory store
// backs tests and short-lived embedding.
package tokenstore

import "sync"

// Memory is an in-process token store.
type Memory struct {
	mu    sync.Mutex
	token string
}

// NewMemory creates a memory store holding the given token.
func NewMemory(token string) *Memory {
	return &Memory{token: token}
}

// Current returns the stored token.
func (m *Memory) Current() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

// CompareAndSwap replaces the token only if it still equals old.
func (m *Memory) CompareAndSwap(old, new string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != old {
		return false, nil
	}
	m.token = new
	return true, nil
}

// Set unconditionally replaces the token.
func (m *Memory) Set(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Clear removes the token.
func (m *Memory) Clear() error {
	return m.Set("")
}
