// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/process"
)

// ErrTerminationFailed reports a tunnel whose process survived
// SIGKILL or whose artifacts could not all be removed. The registry
// record is removed regardless; callers surface this as a warning.
var ErrTerminationFailed = errors.New("tunnel termination incomplete")

// DefaultGrace is how long Terminate waits between SIGTERM and
// SIGKILL.
const DefaultGrace = 500 * time.Millisecond

// Registry is a file-backed map of connection ID to tunnel Record.
//
// Every mutating call is read-modify-write with an atomic replace
// (write to temp file, fsync, rename), so readers never see a partial
// document. There is no cross-process lock: two tether invocations
// mutating simultaneously are last-writer-wins, acceptable for a
// per-operator CLI.
type Registry struct {
	// Path is the registry file, e.g. <state dir>/tunnels.json.
	Path string

	// Clock drives termination grace waits. Defaults to the real clock.
	Clock clock.Clock

	// Grace is the SIGTERM-to-SIGKILL wait. Defaults to DefaultGrace.
	Grace time.Duration

	// Alive and Terminate probe and kill tunnel processes. They
	// default to lib/process; tests substitute them to simulate dead
	// or unkillable processes.
	Alive     func(pid int) bool
	Terminate func(clk clock.Clock, pid int, grace time.Duration) bool

	// StopControl asks the SSH control master to shut down before
	// signals are sent. Defaults to ssh -O stop on the control path.
	StopControl func(r Record) error

	// Log receives cleanup warnings. Defaults to slog.Default().
	Log *slog.Logger
}

// NewRegistry creates a Registry backed by the given file with
// default process handling.
func NewRegistry(path string) *Registry {
	return &Registry{
		Path:      path,
		Clock:     clock.Real(),
		Grace:     DefaultGrace,
		Alive:     process.Alive,
		Terminate: process.TerminateWithGrace,
		StopControl: func(r Record) error {
			if r.Artifacts.ControlPath == "" {
				return nil
			}
			return exec.Command("ssh", "-O", "stop", "-o", "ControlPath="+r.Artifacts.ControlPath, r.Destination).Run()
		},
	}
}

// document is the on-disk registry format.
type document struct {
	Tunnels map[string]Record `json:"tunnels"`
}

func (g *Registry) logger() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}

func (g *Registry) grace() time.Duration {
	if g.Grace > 0 {
		return g.Grace
	}
	return DefaultGrace
}

// load reads the registry document. A missing file is an empty
// registry, not an error.
func (g *Registry) load() (document, error) {
	doc := document{Tunnels: make(map[string]Record)}
	data, err := os.ReadFile(g.Path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("reading tunnel registry: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parsing tunnel registry %s: %w", g.Path, err)
	}
	if doc.Tunnels == nil {
		doc.Tunnels = make(map[string]Record)
	}
	return doc, nil
}

// persist atomically replaces the registry file: write to a sibling
// temp file, fsync, rename into place, then fsync the directory so
// the rename survives power loss.
func (g *Registry) persist(doc document) error {
	if err := os.MkdirAll(filepath.Dir(g.Path), 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tunnel registry: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := g.Path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary registry file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary registry file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary registry file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary registry file: %w", err)
	}
	if err := os.Rename(temporaryPath, g.Path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming registry file into place: %w", err)
	}

	if directory, err := os.Open(filepath.Dir(g.Path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Create registers a new tunnel and persists the registry. The ID
// comes from NewConnectionID, minted by the caller before the tunnel
// process was launched.
func (g *Registry) Create(id string, scope Scope, destination string, port int, strategy Kind, proc ProcessRef, artifacts Artifacts) (Record, error) {
	doc, err := g.load()
	if err != nil {
		return Record{}, err
	}

	record := Record{
		ID:          id,
		Scope:       scope,
		Destination: destination,
		Port:        port,
		Strategy:    strategy,
		Process:     proc,
		Artifacts:   artifacts,
		CreatedAt:   g.Clock.Now(),
	}

	doc.Tunnels[record.ID] = record
	if err := g.persist(doc); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Get returns the record for a connection ID.
func (g *Registry) Get(id string) (Record, bool, error) {
	doc, err := g.load()
	if err != nil {
		return Record{}, false, err
	}
	record, ok := doc.Tunnels[id]
	return record, ok, nil
}

// List returns records matching the filter, ordered by creation time.
func (g *Registry) List(filter Filter) ([]Record, error) {
	doc, err := g.load()
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, record := range doc.Tunnels {
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// PruneStale removes records whose process no longer exists and
// returns the pruned records. Artifacts of dead tunnels are removed
// best-effort. Idempotent: a second call right after the first prunes
// nothing.
func (g *Registry) PruneStale() ([]Record, error) {
	doc, err := g.load()
	if err != nil {
		return nil, err
	}

	var pruned []Record
	for id, record := range doc.Tunnels {
		if g.Alive(record.Process.PID) {
			continue
		}
		g.removeArtifacts(record)
		if record.Process.AgentPID > 0 && g.Alive(record.Process.AgentPID) {
			g.Terminate(g.Clock, record.Process.AgentPID, g.grace())
		}
		delete(doc.Tunnels, id)
		pruned = append(pruned, record)
	}

	if len(pruned) == 0 {
		return nil, nil
	}
	if err := g.persist(doc); err != nil {
		return nil, err
	}
	sort.Slice(pruned, func(i, j int) bool {
		return pruned[i].CreatedAt.Before(pruned[j].CreatedAt)
	})
	return pruned, nil
}

// TerminateRecord stops a tunnel and removes its record. The record
// is removed from the registry unconditionally, even when the process
// or its artifacts resist cleanup — a registry entry for a tunnel we
// tried to kill is worse than a leaked process, because every later
// invocation would retry and fail the same way. Cleanup failures are
// reported wrapping ErrTerminationFailed and logged as warnings;
// callers treat them as non-fatal.
func (g *Registry) TerminateRecord(record Record) error {
	doc, err := g.load()
	if err != nil {
		return err
	}
	delete(doc.Tunnels, record.ID)
	if err := g.persist(doc); err != nil {
		return err
	}

	var failures []error

	// Ask the control master to wind down first. A live master exits
	// cleanly on -O stop; signals below cover everything else.
	if err := g.StopControl(record); err != nil {
		g.logger().Debug("control master stop failed, falling back to signals",
			"connection", record.ID, "error", err)
	}

	if g.Alive(record.Process.PID) && !g.Terminate(g.Clock, record.Process.PID, g.grace()) {
		failures = append(failures, fmt.Errorf("pid %d survived SIGKILL", record.Process.PID))
	}
	if record.Process.AgentPID > 0 && g.Alive(record.Process.AgentPID) &&
		!g.Terminate(g.Clock, record.Process.AgentPID, g.grace()) {
		failures = append(failures, fmt.Errorf("agent pid %d survived SIGKILL", record.Process.AgentPID))
	}
	failures = append(failures, g.removeArtifacts(record)...)

	if len(failures) > 0 {
		err := fmt.Errorf("%w: %w", ErrTerminationFailed, errors.Join(failures...))
		g.logger().Warn("tunnel cleanup incomplete",
			"connection", record.ID, "error", err)
		return err
	}
	return nil
}

// removeArtifacts deletes a record's on-disk leftovers, returning any
// failures other than the files already being gone.
func (g *Registry) removeArtifacts(record Record) []error {
	var failures []error
	for _, path := range []string{record.Artifacts.ControlPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			failures = append(failures, err)
		}
	}
	if dir := record.Artifacts.SessionDir; dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}
