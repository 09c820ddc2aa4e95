// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/audit"
)

type termParams struct {
	Config  string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
	Team    string `flag:"team,t" desc:"team name"`
	Machine string `flag:"machine,m" desc:"machine name"`
}

// TermCommand opens an interactive shell on a managed machine.
func TermCommand() *cli.Command {
	var params termParams
	return &cli.Command{
		Name:    "term",
		Summary: "Open an interactive shell on a machine",
		Usage:   "tether term -t <team> -m <machine> [flags] [-- command...]",
		Description: `Open an interactive SSH shell on a machine using the team's vault
credentials. Arguments after -- run as a remote command instead of a
shell. The session is ephemeral: keys and agents are cleaned up when
ssh exits, and the remote exit code becomes tether's exit code.`,
		Examples: []cli.Example{
			{Description: "Interactive shell", Command: "tether term -t platform -m edge-01"},
			{Description: "One-off command", Command: "tether term -t platform -m edge-01 -- uptime"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("term", &params)
		},
		Run: func(args []string) error {
			return runTerm(&params, args)
		},
	}
}

func runTerm(params *termParams, args []string) error {
	if err := requireAll("team", params.Team, "machine", params.Machine); err != nil {
		return err
	}

	app, err := newApp(params.Config)
	if err != nil {
		return err
	}

	ctx := context.Background()
	machine, err := app.Vault.GetMachine(ctx, params.Team, params.Machine)
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
	defer func() {
		handle.Release()
		app.Trail.Record(audit.EventSessionRelease, map[string]string{"machine": machine.Name})
	}()
	app.Trail.Record(audit.EventSessionEstablish, map[string]string{
		"machine":     machine.Name,
		"method":      string(handle.Method),
		"fingerprint": strings.Join(machine.HostEntry.Fingerprints(), ","),
	})

	sshArgs := []string{"-tt"}
	sshArgs = append(sshArgs, handle.Options...)
	sshArgs = append(sshArgs, machine.Destination())
	sshArgs = append(sshArgs, args...)

	shell := exec.Command("ssh", sshArgs...)
	shell.Stdin = os.Stdin
	shell.Stdout = os.Stdout
	shell.Stderr = os.Stderr
	shell.Env = append(os.Environ(), handle.Env()...)

	err = shell.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &cli.ExitError{Code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("running ssh: %w", err)
	}
	return nil
}
