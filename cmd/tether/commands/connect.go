// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/audit"
	"github.com/tether-foundation/tether/lib/tunnel"
)

type connectParams struct {
	cli.JSONOutput
	Config     string        `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
	Team       string        `flag:"team,t" desc:"team name"`
	Machine    string        `flag:"machine,m" desc:"machine name"`
	Repository string        `flag:"repository,r" desc:"repository name"`
	Plugin     string        `flag:"plugin,p" desc:"plugin name"`
	Port       int           `flag:"port" desc:"preferred local port (default: first free in range)"`
	Timeout    time.Duration `flag:"timeout" default:"60s" desc:"overall connect timeout"`
}

// connectResult is the JSON shape of a successful connect.
type connectResult struct {
	Connection string `json:"connection"`
	LocalPort  int    `json:"local_port"`
	Strategy   string `json:"strategy"`
	Machine    string `json:"machine"`
	Socket     string `json:"socket"`
}

// ConnectCommand opens a tunnel to a repository plugin socket.
func ConnectCommand() *cli.Command {
	var params connectParams
	return &cli.Command{
		Name:    "connect",
		Summary: "Open a tunnel to a repository plugin",
		Description: `Open a background tunnel from a local port to a plugin's unix
socket on the repository's machine. Credentials and host trust come
from the team vault; the tunnel outlives this invocation and is torn
down with 'tether disconnect'.`,
		Examples: []cli.Example{
			{Description: "Forward the pg plugin of the api repository",
				Command: "tether connect -t platform -m edge-01 -r api -p pg"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("connect", &params)
		},
		Run: func(args []string) error {
			return runConnect(&params)
		},
	}
}

func runConnect(params *connectParams) error {
	if err := requireAll(
		"team", params.Team,
		"machine", params.Machine,
		"repository", params.Repository,
		"plugin", params.Plugin,
	); err != nil {
		return err
	}

	app, err := newApp(params.Config)
	if err != nil {
		return err
	}
	log := app.Log.With("command", "connect", "machine", params.Machine, "plugin", params.Plugin)

	ctx, cancel := context.WithTimeout(context.Background(), params.Timeout)
	defer cancel()

	// Reap dead tunnels first so their ports return to the pool.
	if pruned, err := app.Registry.PruneStale(); err != nil {
		log.Warn("pruning stale tunnels failed", "error", err)
	} else {
		for _, record := range pruned {
			app.Trail.Record(audit.EventTunnelPrune, map[string]string{"connection": record.ID})
		}
	}

	machine, err := app.Vault.GetMachine(ctx, params.Team, params.Machine)
	if err != nil {
		return err
	}
	repository, err := app.Vault.GetRepository(ctx, params.Team, params.Repository)
	if err != nil {
		return err
	}
	credential, err := app.Vault.GetTeamKey(ctx, params.Team)
	if err != nil {
		return err
	}
	defer credential.Close()

	handle, err := app.Establisher().Establish(ctx, credential, machine.HostEntry, app.sessionOptions(machine.Port))
	if err != nil {
		return err
	}
	defer handle.Release()
	app.Trail.Record(audit.EventSessionEstablish, map[string]string{
		"machine":     machine.Name,
		"method":      string(handle.Method),
		"fingerprint": strings.Join(machine.HostEntry.Fingerprints(), ","),
	})

	port, err := tunnel.AllocatePort(params.Port, app.PortRange(), nil)
	if err != nil {
		return err
	}

	strategy, err := tunnel.SelectStrategy(ctx, tunnel.NewProbe("ssh", machine.Destination(), handle.Options))
	if err != nil {
		return err
	}

	scope := tunnel.Scope{
		Team:       params.Team,
		Machine:    params.Machine,
		Repository: params.Repository,
		Plugin:     params.Plugin,
	}
	id := tunnel.NewConnectionID(scope, app.Clock.Now())

	if err := os.MkdirAll(app.Config.ControlDir, 0o700); err != nil {
		return fmt.Errorf("creating control directory: %w", err)
	}
	spec := tunnel.ForwardSpec{
		LocalPort:    port,
		RemoteSocket: repository.PluginSocket(params.Plugin),
		Destination:  machine.Destination(),
		ControlPath:  app.Config.ControlPath(id),
		Options:      handle.Options,
	}

	var forwardArgs []string
	switch strategy {
	case tunnel.KindNative:
		forwardArgs = spec.NativeArgs()
	case tunnel.KindBridge:
		forwardArgs = spec.BridgeArgs(port)
	}

	launch := exec.CommandContext(ctx, "ssh", forwardArgs...)
	launch.Env = append(os.Environ(), handle.Env()...)
	if output, err := launch.CombinedOutput(); err != nil {
		return fmt.Errorf("starting tunnel: %w: %s", err, strings.TrimSpace(string(output)))
	}

	// The forwarding process daemonized itself (-f); ask the control
	// master for the pid the registry will track.
	check := exec.CommandContext(ctx, "ssh", spec.CheckArgs()...)
	check.Env = launch.Env
	checkOutput, _ := check.CombinedOutput()
	pid, err := tunnel.ParseMasterPID(string(checkOutput))
	if err != nil {
		// A master we cannot identify cannot be managed; stop it
		// rather than leaking an untracked process.
		stop := exec.Command("ssh", "-O", "stop", "-o", "ControlPath="+spec.ControlPath, spec.Destination)
		stop.Env = launch.Env
		_ = stop.Run()
		return fmt.Errorf("verifying tunnel process: %w", err)
	}

	sessionDir := handle.Detach()
	record, err := app.Registry.Create(id, scope, machine.Destination(), port, strategy,
		tunnel.ProcessRef{PID: pid, AgentPID: handle.AgentPID},
		tunnel.Artifacts{ControlPath: spec.ControlPath, SessionDir: sessionDir})
	if err != nil {
		return err
	}
	app.Trail.Record(audit.EventTunnelCreate, map[string]string{
		"connection": record.ID,
		"port":       strconv.Itoa(port),
		"strategy":   string(strategy),
		"machine":    machine.Name,
	})
	log.Info("tunnel established", "connection", record.ID, "port", port, "strategy", strategy)

	result := connectResult{
		Connection: record.ID,
		LocalPort:  port,
		Strategy:   string(strategy),
		Machine:    machine.Name,
		Socket:     spec.RemoteSocket,
	}
	if done, err := params.EmitJSON(result); done {
		return err
	}
	fmt.Printf("%s: localhost:%d -> %s:%s (%s)\n",
		record.ID, port, machine.Name, spec.RemoteSocket, strategy)
	return nil
}
