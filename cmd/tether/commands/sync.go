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

type syncParams struct {
	Config     string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
	Team       string `flag:"team,t" desc:"team name"`
	Machine    string `flag:"machine,m" desc:"machine name"`
	Repository string `flag:"repository,r" desc:"repository name"`
	Local      string `flag:"local,l" desc:"local directory"`
	Mirror     bool   `flag:"mirror" desc:"delete files absent from the source"`
	Verify     bool   `flag:"verify" desc:"checksum every file instead of trusting timestamps"`
}

// SyncCommand transfers files between a local directory and a
// repository's mount on its machine, via rsync over a vault session.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:    "sync",
		Summary: "Transfer files to or from a repository",
		Description: `Synchronize files between a local directory and a repository's
mounted data directory using rsync over an SSH session built from the
team vault.`,
		Subcommands: []*cli.Command{
			syncDirectionCommand("push", "Upload a local directory to the repository mount"),
			syncDirectionCommand("pull", "Download the repository mount to a local directory"),
		},
	}
}

func syncDirectionCommand(direction, summary string) *cli.Command {
	var params syncParams
	return &cli.Command{
		Name:    direction,
		Summary: summary,
		Usage:   fmt.Sprintf("tether sync %s -t <team> -m <machine> -r <repository> -l <dir> [flags]", direction),
		Examples: []cli.Example{
			{Description: summary,
				Command: fmt.Sprintf("tether sync %s -t platform -m edge-01 -r api -l ./data", direction)},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("sync "+direction, &params)
		},
		Run: func(args []string) error {
			return runSync(&params, direction)
		},
	}
}

func runSync(params *syncParams, direction string) error {
	if err := requireAll(
		"team", params.Team,
		"machine", params.Machine,
		"repository", params.Repository,
		"local", params.Local,
	); err != nil {
		return err
	}

	app, err := newApp(params.Config)
	if err != nil {
		return err
	}
	log := app.Log.With("command", "sync", "direction", direction)

	ctx := context.Background()
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

	if direction == "push" {
		if _, err := os.Stat(params.Local); err != nil {
			return fmt.Errorf("local path %q: %w", params.Local, err)
		}
	} else {
		if err := os.MkdirAll(params.Local, 0o755); err != nil {
			return fmt.Errorf("creating local path %q: %w", params.Local, err)
		}
	}

	handle, err := app.Establisher().Establish(ctx, credential, machine.HostEntry, app.sessionOptions(machine.Port))
	if err != nil {
		return err
	}
	defer handle.Release()
	app.Trail.Record(audit.EventSessionEstablish, map[string]string{
		"machine": machine.Name,
		"method":  string(handle.Method),
	})

	// A trailing slash makes rsync copy directory contents rather
	// than the directory itself.
	remote := machine.Destination() + ":" + repository.MountPath(machine.Datastore) + "/"
	local := strings.TrimSuffix(params.Local, "/") + "/"

	rsyncArgs := []string{"-az", "-e", "ssh " + strings.Join(handle.Options, " ")}
	if params.Mirror {
		rsyncArgs = append(rsyncArgs, "--delete", "--exclude", "*.sock")
	}
	if params.Verify {
		rsyncArgs = append(rsyncArgs, "--checksum", "--ignore-times")
	} else {
		rsyncArgs = append(rsyncArgs, "--partial", "--append-verify")
	}
	if direction == "push" {
		rsyncArgs = append(rsyncArgs, local, remote)
	} else {
		rsyncArgs = append(rsyncArgs, remote, local)
	}

	log.Info("starting transfer", "machine", machine.Name, "repository", repository.Name)
	transfer := exec.Command("rsync", rsyncArgs...)
	transfer.Stdin = os.Stdin
	transfer.Stdout = os.Stdout
	transfer.Stderr = os.Stderr
	transfer.Env = append(os.Environ(), handle.Env()...)

	err = transfer.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &cli.ExitError{Code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("running rsync: %w", err)
	}
	return nil
}
