// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/version"
)

// Root builds the top-level tether command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "tether",
		Summary: "Secure remote session and tunnel manager",
		Description: `tether opens managed SSH sessions and tunnels to machines
registered in the control plane, using credentials and host trust from
team vaults. Sessions never touch the disk unprotected, tunnels
survive the CLI exiting, and every mutation is audited locally.`,
		Subcommands: []*cli.Command{
			ConnectCommand(),
			DisconnectCommand(),
			StatusCommand(),
			ListCommand(),
			TermCommand(),
			SyncCommand(),
			AuthCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}
