// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the tether CLI command tree and wires the
// libraries behind it: vault lookups through the token gate, the
// session establisher, the tunnel registry, and the audit trail.
package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/audit"
	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/config"
	"github.com/tether-foundation/tether/lib/session"
	"github.com/tether-foundation/tether/lib/tokengate"
	"github.com/tether-foundation/tether/lib/tokenstore"
	"github.com/tether-foundation/tether/lib/tunnel"
	"github.com/tether-foundation/tether/lib/vault"
)

// App carries the wired-up dependencies shared by all commands.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Clock    clock.Clock
	Tokens   *tokenstore.File
	Gate     *tokengate.Gate
	Vault    *vault.Client
	Registry *tunnel.Registry
	Trail    *audit.Trail

	stepTimeout time.Duration
}

// newApp loads configuration (an explicit --config path wins over
// TETHER_CONFIG) and wires the application.
func newApp(configPath string) (*App, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	stepTimeout, err := cfg.StepTimeoutDuration()
	if err != nil {
		return nil, err
	}
	lockTimeout, err := cfg.LockTimeoutDuration()
	if err != nil {
		return nil, err
	}

	log := cli.NewCommandLogger()

	tokens := tokenstore.NewFile(cfg.TokenPath())
	tokens.Passphrase = cfg.TokenPassphrase

	gate := tokengate.NewGate(cfg.APIURL, tokens)
	gate.LockTimeout = lockTimeout
	gate.Log = log

	registry := tunnel.NewRegistry(cfg.RegistryPath())
	registry.Log = log

	trail := audit.NewTrail(cfg.AuditPath())
	trail.Log = log
	gate.OnRotate = func(endpoint string) {
		trail.Record(audit.EventTokenRotate, map[string]string{"endpoint": endpoint})
	}

	return &App{
		Config:      cfg,
		Log:         log,
		Clock:       clock.Real(),
		Tokens:      tokens,
		Gate:        gate,
		Vault:       vault.New(gate),
		Registry:    registry,
		Trail:       trail,
		stepTimeout: stepTimeout,
	}, nil
}

// Establisher returns a session establisher configured from the app.
func (a *App) Establisher() *session.Establisher {
	e := session.New()
	e.Clock = a.Clock
	e.StepTimeout = a.stepTimeout
	e.Log = a.Log
	return e
}

// sessionOptions builds session options for a remote SSH port.
func (a *App) sessionOptions(port int) session.Options {
	return session.Options{Port: port, PreferAgent: a.Config.PreferAgent}
}

// PortRange returns the configured tunnel port range.
func (a *App) PortRange() tunnel.PortRange {
	return tunnel.PortRange{First: a.Config.Ports.First, Last: a.Config.Ports.Last}
}

// requireAll fails with a usage error when any named flag is empty.
func requireAll(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("--%s is required", pairs[i])
		}
	}
	return nil
}
