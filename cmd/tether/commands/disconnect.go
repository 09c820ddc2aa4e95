// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/audit"
	"github.com/tether-foundation/tether/lib/tunnel"
)

type disconnectParams struct {
	Config  string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
	Team    string `flag:"team,t" desc:"limit to a team"`
	Machine string `flag:"machine,m" desc:"limit to a machine"`
	Plugin  string `flag:"plugin,p" desc:"limit to a plugin"`
	All     bool   `flag:"all" desc:"disconnect every matching tunnel"`
}

// DisconnectCommand tears down tunnels by connection ID or filter.
func DisconnectCommand() *cli.Command {
	var params disconnectParams
	return &cli.Command{
		Name:    "disconnect",
		Summary: "Tear down tunnels",
		Usage:   "tether disconnect [<connection-id>...] [flags]",
		Description: `Stop tunnel processes and remove their registry records. Name
connection IDs explicitly, or use --all with optional scope filters.
Cleanup problems (an unkillable process, undeletable artifacts) are
reported as warnings; the registry record is removed regardless.`,
		Examples: []cli.Example{
			{Description: "Disconnect one tunnel", Command: "tether disconnect deadbeef"},
			{Description: "Disconnect everything on a machine", Command: "tether disconnect --all -m edge-01"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("disconnect", &params)
		},
		Run: func(args []string) error {
			return runDisconnect(&params, args)
		},
	}
}

func runDisconnect(params *disconnectParams, args []string) error {
	app, err := newApp(params.Config)
	if err != nil {
		return err
	}
	log := app.Log.With("command", "disconnect")

	var targets []tunnel.Record
	switch {
	case len(args) > 0:
		for _, id := range args {
			record, ok, err := app.Registry.Get(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no tunnel with connection ID %q", id)
			}
			targets = append(targets, record)
		}
	case params.All:
		targets, err = app.Registry.List(tunnel.Filter{
			Team:    params.Team,
			Machine: params.Machine,
			Plugin:  params.Plugin,
		})
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			fmt.Println("no matching tunnels")
			return nil
		}
	default:
		return fmt.Errorf("name a connection ID or pass --all")
	}

	incomplete := false
	for _, record := range targets {
		err := app.Registry.TerminateRecord(record)
		app.Trail.Record(audit.EventTunnelTerminate, map[string]string{"connection": record.ID})
		if errors.Is(err, tunnel.ErrTerminationFailed) {
			log.Warn("tunnel cleanup incomplete", "connection", record.ID, "error", err)
			incomplete = true
			continue
		}
		if err != nil {
			return err
		}
		fmt.Printf("disconnected %s (port %d)\n", record.ID, record.Port)
	}

	if incomplete {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
