// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
)

func testTrail(t *testing.T) (*Trail, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake()
	trail := NewTrail(filepath.Join(t.TempDir(), "state", "audit.cbor"))
	trail.Clock = fake
	trail.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	return trail, fake
}

func TestRecordAndReadBack(t *testing.T) {
	trail, fake := testTrail(t)

	trail.Record(EventTunnelCreate, map[string]string{"connection": "deadbeef", "port": "7111"})
	fake.Advance(time.Second)
	trail.Record(EventTunnelTerminate, map[string]string{"connection": "deadbeef"})

	events, err := trail.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Events = %d, want 2", len(events))
	}
	if events[0].Kind != EventTunnelCreate || events[0].Detail["port"] != "7111" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Kind != EventTunnelTerminate {
		t.Errorf("events[1] = %+v", events[1])
	}
	if !events[1].Time.After(events[0].Time) {
		t.Errorf("timestamps not ordered: %v, %v", events[0].Time, events[1].Time)
	}
}

func TestEventsMissingFile(t *testing.T) {
	trail, _ := testTrail(t)
	events, err := trail.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if events != nil {
		t.Errorf("Events = %v, want none", events)
	}
}

func TestRecordDisabled(t *testing.T) {
	trail := NewTrail("")
	// Must not panic or create anything.
	trail.Record(EventAuth, nil)
}

func TestRecordBestEffort(t *testing.T) {
	trail, _ := testTrail(t)
	// Point the trail at a path whose parent is a file, so appends
	// cannot succeed.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	trail.Path = filepath.Join(blocker, "audit.cbor")

	// Logs a warning, returns normally.
	trail.Record(EventAuth, nil)
}
