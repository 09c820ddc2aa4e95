// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit keeps a local append-only trail of session and tunnel
// lifecycle events, encoded as a deterministic CBOR sequence.
//
// The trail is strictly best-effort: a full disk or unwritable state
// directory must never block a connection, so failures are logged and
// swallowed.
package audit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/codec"
)

// Event kinds recorded by the CLI.
const (
	EventSessionEstablish = "session_establish"
	EventSessionRelease   = "session_release"
	EventTunnelCreate     = "tunnel_create"
	EventTunnelPrune      = "tunnel_prune"
	EventTunnelTerminate  = "tunnel_terminate"
	EventTokenRotate      = "token_rotate"
	EventAuth             = "auth"
)

// Event is one audit trail entry. Detail values are short public
// strings (connection IDs, destinations, fingerprints); secrets never
// enter the trail.
type Event struct {
	Time   time.Time         `cbor:"time"`
	Kind   string            `cbor:"kind"`
	Detail map[string]string `cbor:"detail,omitempty"`
}

// Trail appends events to a file as a CBOR sequence.
type Trail struct {
	// Path is the trail file, e.g. <state dir>/audit.cbor. Empty
	// disables recording.
	Path string

	// Clock stamps events. Defaults to the real clock.
	Clock clock.Clock

	// Log receives append failures. Defaults to slog.Default().
	Log *slog.Logger

	mu sync.Mutex
}

// NewTrail creates a Trail appending to the given file.
func NewTrail(path string) *Trail {
	return &Trail{Path: path, Clock: clock.Real()}
}

func (t *Trail) logger() *slog.Logger {
	if t.Log != nil {
		return t.Log
	}
	return slog.Default()
}

// Record appends one event. Failures are logged, never returned.
func (t *Trail) Record(kind string, detail map[string]string) {
	if t.Path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.append(Event{Time: t.Clock.Now().UTC(), Kind: kind, Detail: detail}); err != nil {
		t.logger().Warn("audit trail append failed", "kind", kind, "error", err)
	}
}

func (t *Trail) append(event Event) error {
	if err := os.MkdirAll(filepath.Dir(t.Path), 0o700); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}
	file, err := os.OpenFile(t.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit trail: %w", err)
	}
	defer file.Close()

	if err := codec.NewEncoder(file).Encode(event); err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	return nil
}

// Events reads the whole trail back. A missing file is an empty
// trail. A truncated final record (crash mid-append) ends the read at
// the last complete event.
func (t *Trail) Events() ([]Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.Open(t.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer file.Close()

	var events []Event
	decoder := codec.NewDecoder(file)
	for {
		var event Event
		err := decoder.Decode(&event)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("decoding audit event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
}
