// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package session turns decoded vault credentials into something an
// external OpenSSH client can authenticate with.
//
// The preferred mechanism is a dedicated ssh-agent holding the key in
// agent memory. When no agent can be started (or loading the key into
// it fails) the session falls back to a 0600 temp file. Both paths
// also materialize a known-hosts file carrying the host trust entry,
// and compose the strict-verification client options via lib/trust.
//
// A Handle owns the on-disk artifacts and the agent process. Callers
// must Release it when the connection ends, or Detach it to hand
// ownership to a longer-lived owner such as the tunnel registry.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/process"
	"github.com/tether-foundation/tether/lib/sshcred"
	"github.com/tether-foundation/tether/lib/trust"
)

// ErrSessionSetup reports a failure preparing SSH authentication
// before any connection was attempted: agent startup, key loading,
// or artifact creation.
var ErrSessionSetup = errors.New("session setup failed")

// DefaultStepTimeout bounds each subprocess step (ssh-agent, ssh-add).
// A hung step surfaces as a typed failure rather than a stuck CLI.
const DefaultStepTimeout = 10 * time.Second

// Method identifies how the private key is made available to the SSH
// client.
type Method string

const (
	// MethodAgent holds the key in a dedicated ssh-agent process.
	MethodAgent Method = "agent"

	// MethodFile holds the key in a 0600 temp file passed with -i.
	MethodFile Method = "file"
)

// Options configures Establish.
type Options struct {
	// Port is the remote SSH port.
	Port int

	// PreferAgent selects the agent path when possible. When false the
	// key goes straight to a temp file.
	PreferAgent bool
}

// Establisher prepares SSH sessions. The zero value is not usable;
// call New.
type Establisher struct {
	// Clock drives timeouts and grace waits. Defaults to the real clock.
	Clock clock.Clock

	// Dir is where per-session artifact directories are created.
	// Defaults to the system temp directory.
	Dir string

	// AgentBinary and AddBinary name the ssh-agent and ssh-add
	// executables. Overridable for tests.
	AgentBinary string
	AddBinary   string

	// StepTimeout bounds each subprocess step. Defaults to
	// DefaultStepTimeout.
	StepTimeout time.Duration

	// Log receives fallback warnings. Defaults to slog.Default().
	Log *slog.Logger
}

// New creates an Establisher with default settings.
func New() *Establisher {
	return &Establisher{
		Clock:       clock.Real(),
		AgentBinary: "ssh-agent",
		AddBinary:   "ssh-add",
		StepTimeout: DefaultStepTimeout,
	}
}

func (e *Establisher) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Establish prepares authentication artifacts for one SSH session.
// Failures wrap ErrSessionSetup, except an empty trust entry which
// wraps trust.ErrUntrustedHost — there is no unverified mode.
//
// The returned Handle owns a temp directory holding the known-hosts
// file (always present, possibly empty) and, in file mode, the key
// file. In agent mode it owns the agent process instead.
func (e *Establisher) Establish(ctx context.Context, credential *sshcred.Credential, entry sshcred.HostTrustEntry, opts Options) (*Handle, error) {
	// Compose options against placeholder paths first so an empty
	// trust entry is refused before any artifact touches disk.
	if _, err := trust.Options(entry, "known_hosts", "", opts.Port); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(e.Dir, "tether-session-")
	if err != nil {
		return nil, fmt.Errorf("%w: creating artifact directory: %v", ErrSessionSetup, err)
	}

	handle := &Handle{
		clk: e.Clock,
		dir: dir,
	}

	handle.KnownHostsFile = filepath.Join(dir, "known_hosts")
	knownHosts := entry.String()
	if knownHosts != "" {
		knownHosts += "\n"
	}
	if err := os.WriteFile(handle.KnownHostsFile, []byte(knownHosts), 0o600); err != nil {
		handle.Release()
		return nil, fmt.Errorf("%w: writing known-hosts file: %v", ErrSessionSetup, err)
	}

	if opts.PreferAgent {
		if err := e.establishAgent(ctx, handle, credential); err != nil {
			e.logger().Warn("ssh-agent unavailable, falling back to key file",
				"error", err)
		} else {
			handle.Method = MethodAgent
		}
	}

	if handle.Method == "" {
		if err := e.establishFile(handle, credential); err != nil {
			handle.Release()
			return nil, err
		}
		handle.Method = MethodFile
	}

	identityFile := ""
	if handle.Method == MethodFile {
		identityFile = handle.KeyFile
	}
	handle.Options, err = trust.Options(entry, handle.KnownHostsFile, identityFile, opts.Port)
	if err != nil {
		handle.Release()
		return nil, err
	}

	return handle, nil
}

// establishAgent starts a dedicated ssh-agent and loads the key into
// it via ssh-add reading stdin. On any failure the agent (if it got
// as far as starting) is killed before reporting the error, so a
// failed attempt leaves no stray process behind.
func (e *Establisher) establishAgent(ctx context.Context, handle *Handle, credential *sshcred.Credential) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout())
	defer cancel()

	banner, err := exec.CommandContext(stepCtx, e.AgentBinary, "-s").Output()
	if err != nil {
		return fmt.Errorf("starting %s: %w", e.AgentBinary, err)
	}

	env, err := ParseAgentBanner(string(banner))
	if err != nil {
		return err
	}
	socket, pid := env["SSH_AUTH_SOCK"], env["SSH_AGENT_PID"]
	if socket == "" || pid == "" {
		return fmt.Errorf("agent banner missing SSH_AUTH_SOCK or SSH_AGENT_PID")
	}
	agentPID, err := process.ParsePID(pid)
	if err != nil {
		return fmt.Errorf("agent banner: %w", err)
	}

	addCtx, cancelAdd := context.WithTimeout(ctx, e.stepTimeout())
	defer cancelAdd()

	add := exec.CommandContext(addCtx, e.AddBinary, "-")
	add.Env = append(os.Environ(),
		"SSH_AUTH_SOCK="+socket,
		"SSH_AGENT_PID="+pid,
	)
	add.Stdin = bytes.NewReader(credential.PEM())
	if output, err := add.CombinedOutput(); err != nil {
		process.TerminateWithGrace(e.Clock, agentPID, 100*time.Millisecond)
		return fmt.Errorf("loading key into agent: %w: %s", err, strings.TrimSpace(string(output)))
	}

	handle.AgentPID = agentPID
	handle.AgentSocket = socket
	return nil
}

// establishFile writes the key to a 0600 file inside the handle's
// artifact directory and verifies the write by re-reading it.
func (e *Establisher) establishFile(handle *Handle, credential *sshcred.Credential) error {
	keyFile := filepath.Join(handle.dir, "identity")
	if err := os.WriteFile(keyFile, credential.PEM(), 0o600); err != nil {
		return fmt.Errorf("%w: writing key file: %v", ErrSessionSetup, err)
	}

	written, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("%w: verifying key file: %v", ErrSessionSetup, err)
	}
	if !bytes.Contains(written, []byte("PRIVATE KEY")) {
		return fmt.Errorf("%w: key file verification failed", ErrSessionSetup)
	}

	handle.KeyFile = keyFile
	return nil
}

func (e *Establisher) stepTimeout() time.Duration {
	if e.StepTimeout > 0 {
		return e.StepTimeout
	}
	return DefaultStepTimeout
}

// ParseAgentBanner extracts the KEY=value pairs from ssh-agent's
// shell-export banner:
//
//	SSH_AUTH_SOCK=/tmp/ssh-X/agent.123; export SSH_AUTH_SOCK;
//	SSH_AGENT_PID=124; export SSH_AGENT_PID;
func ParseAgentBanner(banner string) (map[string]string, error) {
	env := make(map[string]string)
	for _, statement := range strings.Split(banner, ";") {
		statement = strings.TrimSpace(statement)
		key, value, ok := strings.Cut(statement, "=")
		if !ok || strings.ContainsAny(key, " \t") {
			continue
		}
		env[key] = value
	}
	if len(env) == 0 {
		return nil, fmt.Errorf("agent banner carried no exports: %q", banner)
	}
	return env, nil
}
