// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/audit"
	"github.com/tether-foundation/tether/lib/tunnel"
)

type listParams struct {
	cli.JSONOutput
	Config     string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
	Team       string `flag:"team,t" desc:"filter by team"`
	Machine    string `flag:"machine,m" desc:"filter by machine"`
	Repository string `flag:"repository,r" desc:"filter by repository"`
	Plugin     string `flag:"plugin,p" desc:"filter by plugin"`
}

// listRow is the JSON shape of one tunnel in list output.
type listRow struct {
	Connection string    `json:"connection"`
	Team       string    `json:"team"`
	Machine    string    `json:"machine"`
	Repository string    `json:"repository"`
	Plugin     string    `json:"plugin"`
	LocalPort  int       `json:"local_port"`
	Strategy   string    `json:"strategy"`
	PID        int       `json:"pid"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListCommand lists live tunnels, pruning dead ones first.
func ListCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List live tunnels",
		Description: `List registered tunnels. Records whose process has exited are
pruned before listing, so the output reflects what is actually
running.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(args []string) error {
			return runList(&params)
		},
	}
}

func runList(params *listParams) error {
	app, err := newApp(params.Config)
	if err != nil {
		return err
	}

	pruned, err := app.Registry.PruneStale()
	if err != nil {
		return err
	}
	for _, record := range pruned {
		app.Trail.Record(audit.EventTunnelPrune, map[string]string{"connection": record.ID})
	}

	records, err := app.Registry.List(tunnel.Filter{
		Team:       params.Team,
		Machine:    params.Machine,
		Repository: params.Repository,
		Plugin:     params.Plugin,
	})
	if err != nil {
		return err
	}

	rows := make([]listRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, listRow{
			Connection: record.ID,
			Team:       record.Scope.Team,
			Machine:    record.Scope.Machine,
			Repository: record.Scope.Repository,
			Plugin:     record.Scope.Plugin,
			LocalPort:  record.Port,
			Strategy:   string(record.Strategy),
			PID:        record.Process.PID,
			CreatedAt:  record.CreatedAt,
		})
	}

	if done, err := params.EmitJSON(rows); done {
		return err
	}

	if len(rows) == 0 {
		fmt.Println("no tunnels")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "CONNECTION\tTEAM\tMACHINE\tREPOSITORY\tPLUGIN\tPORT\tSTRATEGY\tPID")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
			row.Connection, row.Team, row.Machine, row.Repository, row.Plugin,
			row.LocalPort, row.Strategy, row.PID)
	}
	return tw.Flush()
}
