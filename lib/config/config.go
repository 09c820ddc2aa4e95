// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the tether CLI.
//
// Configuration comes from a single file named by the TETHER_CONFIG
// environment variable or the --config flag. Without either, built-in
// defaults apply; environment variables never override individual
// values. The file may be YAML or JSON, and JSON may carry comments
// and trailing commas (.jsonc).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the tether CLI configuration.
type Config struct {
	// APIURL is the control-plane API root.
	APIURL string `yaml:"api_url"`

	// StateDir holds the tunnel registry, token file, and audit trail.
	StateDir string `yaml:"state_dir"`

	// ControlDir holds SSH ControlMaster sockets. Kept short because
	// unix socket paths have a hard length limit.
	ControlDir string `yaml:"control_dir"`

	// Ports is the local port allocation range for tunnels.
	Ports PortsConfig `yaml:"ports"`

	// PreferAgent selects ssh-agent key handling when available.
	PreferAgent bool `yaml:"prefer_agent"`

	// StepTimeout bounds each SSH setup subprocess, as a Go duration
	// string ("10s").
	StepTimeout string `yaml:"step_timeout"`

	// LockTimeout bounds API token lock acquisition, as a Go duration
	// string ("30s").
	LockTimeout string `yaml:"lock_timeout"`

	// TokenPassphrase, when set, encrypts the token file at rest.
	TokenPassphrase string `yaml:"token_passphrase"`

	// AuditDisabled turns off the local audit trail.
	AuditDisabled bool `yaml:"audit_disabled"`
}

// PortsConfig is the inclusive tunnel port range.
type PortsConfig struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

// Default returns the built-in configuration: state under
// ~/.local/state/tether, control sockets under ~/.ssh/tether, ports
// 7111-9111.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		APIURL:      "https://api.tether.example.com/api",
		StateDir:    filepath.Join(homeDir, ".local", "state", "tether"),
		ControlDir:  filepath.Join(homeDir, ".ssh", "tether"),
		Ports:       PortsConfig{First: 7111, Last: 9111},
		PreferAgent: true,
		StepTimeout: "10s",
		LockTimeout: "30s",
	}
}

// Load loads configuration from TETHER_CONFIG, or returns defaults
// when the variable is unset. A set-but-unreadable path is an error,
// never silently ignored.
func Load() (*Config, error) {
	path := os.Getenv("TETHER_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file, merged over the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" || ext == ".jsonc" {
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Ports.First <= 0 || cfg.Ports.Last < cfg.Ports.First {
		return nil, fmt.Errorf("config %s: invalid port range %d-%d", path, cfg.Ports.First, cfg.Ports.Last)
	}
	if _, err := cfg.StepTimeoutDuration(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if _, err := cfg.LockTimeoutDuration(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// StepTimeoutDuration parses StepTimeout.
func (c *Config) StepTimeoutDuration() (time.Duration, error) {
	return parseDuration("step_timeout", c.StepTimeout, 10*time.Second)
}

// LockTimeoutDuration parses LockTimeout.
func (c *Config) LockTimeoutDuration() (time.Duration, error) {
	return parseDuration("lock_timeout", c.LockTimeout, 30*time.Second)
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, value)
	}
	return d, nil
}

// RegistryPath is the tunnel registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.StateDir, "tunnels.json")
}

// TokenPath is the request token file.
func (c *Config) TokenPath() string {
	return filepath.Join(c.StateDir, "token.json")
}

// AuditPath is the audit trail file, or "" when auditing is disabled.
func (c *Config) AuditPath() string {
	if c.AuditDisabled {
		return ""
	}
	return filepath.Join(c.StateDir, "audit.cbor")
}

// ControlPath is the ControlMaster socket path for a connection ID.
func (c *Config) ControlPath(connectionID string) string {
	return filepath.Join(c.ControlDir, "ctl-"+connectionID)
}
