// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/netutil"
	"github.com/tether-foundation/tether/lib/process"
	"github.com/tether-foundation/tether/lib/tunnel"
)

type statusParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
}

// statusResult is the JSON shape of one tunnel's status.
type statusResult struct {
	Connection  string    `json:"connection"`
	Running     bool      `json:"running"`
	PortBound   bool      `json:"port_bound"`
	LocalPort   int       `json:"local_port"`
	Destination string    `json:"destination"`
	Strategy    string    `json:"strategy"`
	PID         int       `json:"pid"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusCommand reports the health of registered tunnels without
// mutating the registry.
func StatusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Report tunnel health",
		Usage:   "tether status [<connection-id>] [flags]",
		Description: `Report whether tunnels are running and their local ports are
actually bound. Unlike 'list', status never removes records; a dead
tunnel shows up as not running so the operator can see what happened.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(args []string) error {
			return runStatus(&params, args)
		},
	}
}

func runStatus(params *statusParams, args []string) error {
	app, err := newApp(params.Config)
	if err != nil {
		return err
	}

	var records []tunnel.Record
	if len(args) > 0 {
		for _, id := range args {
			record, ok, err := app.Registry.Get(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no tunnel with connection ID %q", id)
			}
			records = append(records, record)
		}
	} else {
		records, err = app.Registry.List(tunnel.Filter{})
		if err != nil {
			return err
		}
	}

	results := make([]statusResult, 0, len(records))
	allHealthy := true
	for _, record := range records {
		running := process.Alive(record.Process.PID)
		// A free port means nothing is listening: the forward is gone
		// even if the ssh process survives.
		portBound := !netutil.ProbePort(record.Port)
		if !running || !portBound {
			allHealthy = false
		}
		results = append(results, statusResult{
			Connection:  record.ID,
			Running:     running,
			PortBound:   portBound,
			LocalPort:   record.Port,
			Destination: record.Destination,
			Strategy:    string(record.Strategy),
			PID:         record.Process.PID,
			CreatedAt:   record.CreatedAt,
		})
	}

	if done, err := params.EmitJSON(results); done {
		if err != nil {
			return err
		}
	} else {
		if len(results) == 0 {
			fmt.Println("no tunnels")
			return nil
		}
		for _, result := range results {
			state := "healthy"
			switch {
			case !result.Running:
				state = "dead"
			case !result.PortBound:
				state = "not listening"
			}
			fmt.Printf("%s: %s (localhost:%d -> %s, %s, pid %d)\n",
				result.Connection, state, result.LocalPort, result.Destination,
				result.Strategy, result.PID)
		}
	}

	if !allHealthy {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
