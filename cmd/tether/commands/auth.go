// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/audit"
	"github.com/tether-foundation/tether/lib/tokengate"
)

type authLoginParams struct {
	Config   string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
	Email    string `flag:"email,e" desc:"account email"`
	Password string `flag:"password" desc:"account password (prompted when omitted)"`
	Session  string `flag:"session" default:"tether CLI" desc:"session name shown in the control plane"`
}

type authStatusParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
}

type authConfigParams struct {
	Config string `flag:"config" desc:"config file path (overrides TETHER_CONFIG)"`
}

// AuthCommand manages control-plane credentials.
func AuthCommand() *cli.Command {
	return &cli.Command{
		Name:    "auth",
		Summary: "Log in and out of the control plane",
		Subcommands: []*cli.Command{
			authLoginCommand(),
			authLogoutCommand(),
			authStatusCommand(),
		},
	}
}

func authLoginCommand() *cli.Command {
	var params authLoginParams
	return &cli.Command{
		Name:    "login",
		Summary: "Authenticate and store a request token",
		Description: `Exchange email and password for a request token and store it.
The password is hashed locally; only the hash is sent. Pass --password
for scripting, otherwise it is prompted without echo.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("auth login", &params)
		},
		Run: func(args []string) error {
			return runAuthLogin(&params)
		},
	}
}

func runAuthLogin(params *authLoginParams) error {
	if err := requireAll("email", params.Email); err != nil {
		return err
	}

	app, err := newApp(params.Config)
	if err != nil {
		return err
	}

	password := params.Password
	if password == "" {
		fmt.Fprintf(os.Stderr, "password for %s: ", params.Email)
		entered, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(entered)
	}
	if password == "" {
		return fmt.Errorf("empty password")
	}

	token, err := app.Gate.Authenticate(context.Background(), "/CreateAuthenticationRequest",
		params.Email, tokengate.HashPassword(password),
		map[string]string{"name": params.Session})
	if err != nil {
		return err
	}
	if err := app.Tokens.Set(token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	app.Trail.Record(audit.EventAuth, map[string]string{"action": "login", "email": params.Email})

	fmt.Printf("logged in as %s\n", params.Email)
	return nil
}

func authLogoutCommand() *cli.Command {
	var params authConfigParams
	return &cli.Command{
		Name:    "logout",
		Summary: "Revoke the session and discard the token",
		Description: `Ask the control plane to revoke the current session, then delete
the stored token. The local token is removed even when revocation
fails, so a stale session cannot keep this machine authenticated.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("auth logout", &params)
		},
		Run: func(args []string) error {
			return runAuthLogout(&params)
		},
	}
}

func runAuthLogout(params *authConfigParams) error {
	app, err := newApp(params.Config)
	if err != nil {
		return err
	}

	if _, err := app.Gate.Call(context.Background(), "/DeleteUserRequest", map[string]string{}); err != nil {
		app.Log.Warn("revoking session failed, discarding local token anyway", "error", err)
	}
	if err := app.Tokens.Clear(); err != nil {
		return fmt.Errorf("clearing stored token: %w", err)
	}
	app.Trail.Record(audit.EventAuth, map[string]string{"action": "logout"})

	fmt.Println("logged out")
	return nil
}

func authStatusCommand() *cli.Command {
	var params authStatusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show whether a token is stored",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("auth status", &params)
		},
		Run: func(args []string) error {
			return runAuthStatus(&params)
		},
	}
}

func runAuthStatus(params *authStatusParams) error {
	app, err := newApp(params.Config)
	if err != nil {
		return err
	}

	token, err := app.Tokens.Current()
	if err != nil {
		return err
	}
	authenticated := strings.TrimSpace(token) != ""

	if done, err := params.EmitJSON(map[string]any{
		"authenticated": authenticated,
		"token_path":    app.Config.TokenPath(),
	}); done {
		return err
	}
	if authenticated {
		fmt.Println("authenticated")
		return nil
	}
	fmt.Println("not authenticated, run tether auth login")
	return &cli.ExitError{Code: 1}
}
