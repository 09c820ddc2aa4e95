// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault reads connection material out of the control plane's
// encrypted vaults: machine addresses, team SSH keys, repository
// socket locations.
//
// The control plane answers every call with stored-procedure result
// sets whose rows carry a vaultContent column of JSON text. All
// knowledge of those shapes lives here; lib/tokengate underneath only
// knows about token rotation.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/tether-foundation/tether/lib/sshcred"
	"github.com/tether-foundation/tether/lib/tokengate"
)

// ErrNotFound reports that the requested machine, team, or repository
// is not visible to the authenticated account.
var ErrNotFound = errors.New("not found in control plane")

// PluginSocketRoot is where repository plugin sockets live on remote
// hosts, keyed by repository GUID.
const PluginSocketRoot = "/var/run/tether"

// Client issues typed vault lookups through a token gate.
type Client struct {
	Gate *tokengate.Gate
}

// New creates a vault client over the given gate.
func New(gate *tokengate.Gate) *Client {
	return &Client{Gate: gate}
}

// resultEnvelope is the stored-procedure response shape shared by all
// control-plane endpoints.
type resultEnvelope struct {
	ResultSets []struct {
		Data []json.RawMessage `json:"data"`
	} `json:"resultSets"`
	Error string `json:"error"`
}

func (c *Client) call(ctx context.Context, endpoint string, payload any) (*resultEnvelope, error) {
	response, err := c.Gate.Call(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", endpoint, response.StatusCode)
	}

	var envelope resultEnvelope
	if err := response.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", endpoint, err)
	}
	if envelope.Error != "" {
		return nil, fmt.Errorf("%s: %s", endpoint, envelope.Error)
	}
	return &envelope, nil
}

// rows returns the decoded rows of result set index, or nil when the
// response has fewer sets.
func (e *resultEnvelope) rows(index int) []json.RawMessage {
	if index >= len(e.ResultSets) {
		return nil
	}
	return e.ResultSets[index].Data
}

// MachineInfo is a machine's connection material from its team vault.
type MachineInfo struct {
	Name      string
	Team      string
	IP        string
	User      string
	Port      int
	Datastore string
	HostEntry sshcred.HostTrustEntry
}

// Destination returns the user@host ssh destination.
func (m MachineInfo) Destination() string {
	return m.User + "@" + m.IP
}

// machineRow is one GetTeamMachines row. vaultContent is JSON text
// decrypted by the control plane.
type machineRow struct {
	MachineName  string `json:"machineName"`
	TeamName     string `json:"teamName"`
	VaultContent string `json:"vaultContent"`
}

// machineVault is the machine vault document.
type machineVault struct {
	IP        string `json:"ip"`
	User      string `json:"user"`
	Port      int    `json:"port"`
	Datastore string `json:"datastore"`
	HostEntry string `json:"host_entry"`
}

// GetMachine looks up one machine's connection info within a team.
func (c *Client) GetMachine(ctx context.Context, team, machine string) (MachineInfo, error) {
	envelope, err := c.call(ctx, "/GetTeamMachines", map[string]string{"teamName": team})
	if err != nil {
		return MachineInfo{}, err
	}

	for setIndex := range envelope.ResultSets {
		for _, raw := range envelope.rows(setIndex) {
			var row machineRow
			if err := json.Unmarshal(raw, &row); err != nil || row.MachineName != machine {
				continue
			}

			var vault machineVault
			if err := json.Unmarshal([]byte(row.VaultContent), &vault); err != nil {
				return MachineInfo{}, fmt.Errorf("parsing vault for machine %s: %w", machine, err)
			}
			if vault.IP == "" {
				return MachineInfo{}, fmt.Errorf("machine %s vault has no ip address", machine)
			}
			if vault.User == "" {
				return MachineInfo{}, fmt.Errorf("machine %s vault has no ssh user", machine)
			}
			if vault.Port == 0 {
				vault.Port = 22
			}

			return MachineInfo{
				Name:      row.MachineName,
				Team:      row.TeamName,
				IP:        vault.IP,
				User:      vault.User,
				Port:      vault.Port,
				Datastore: vault.Datastore,
				HostEntry: sshcred.DecodeHostTrust(vault.HostEntry),
			}, nil
		}
	}
	return MachineInfo{}, fmt.Errorf("%w: machine %s in team %s", ErrNotFound, machine, team)
}

// teamRow is one GetCompanyTeams row.
type teamRow struct {
	TeamName     string `json:"teamName"`
	VaultContent string `json:"vaultContent"`
}

// teamVault is the slice of the team vault the session layer needs.
type teamVault struct {
	SSHPrivateKey string `json:"SSH_PRIVATE_KEY"`
}

// GetTeamKey fetches and decodes a team's SSH private key. The teams
// live in the second result set of GetCompanyTeams; the first carries
// company metadata.
func (c *Client) GetTeamKey(ctx context.Context, team string) (*sshcred.Credential, error) {
	envelope, err := c.call(ctx, "/GetCompanyTeams", map[string]string{})
	if err != nil {
		return nil, err
	}

	for _, raw := range envelope.rows(1) {
		var row teamRow
		if err := json.Unmarshal(raw, &row); err != nil || row.TeamName != team {
			continue
		}
		if row.VaultContent == "" {
			break
		}

		var vault teamVault
		if err := json.Unmarshal([]byte(row.VaultContent), &vault); err != nil {
			return nil, fmt.Errorf("parsing vault for team %s: %w", team, err)
		}
		if vault.SSHPrivateKey == "" {
			break
		}
		return sshcred.DecodeKey(vault.SSHPrivateKey)
	}
	return nil, fmt.Errorf("%w: no SSH key in vault for team %s", ErrNotFound, team)
}

// RepositoryInfo locates a repository's plugin sockets on its machine.
type RepositoryInfo struct {
	Name string
	GUID string
}

// MountPath is the repository's mounted data directory under the
// machine's datastore.
func (r RepositoryInfo) MountPath(datastore string) string {
	return path.Join(datastore, "mounts", r.GUID)
}

// PluginSocketDir is the remote directory holding the repository's
// plugin unix sockets.
func (r RepositoryInfo) PluginSocketDir() string {
	return path.Join(PluginSocketRoot, r.GUID, "plugins")
}

// PluginSocket is the remote unix socket path for one plugin.
func (r RepositoryInfo) PluginSocket(plugin string) string {
	return path.Join(r.PluginSocketDir(), plugin+".sock")
}

// repositoryRow is one GetTeamRepositories row. Older control planes
// name the GUID column repoGuid.
type repositoryRow struct {
	RepositoryName string `json:"repositoryName"`
	RepositoryGUID string `json:"repositoryGuid"`
	RepoGUID       string `json:"repoGuid"`
}

// GetRepository looks up a repository's GUID within a team.
func (c *Client) GetRepository(ctx context.Context, team, repository string) (RepositoryInfo, error) {
	envelope, err := c.call(ctx, "/GetTeamRepositories", map[string]string{"teamName": team})
	if err != nil {
		return RepositoryInfo{}, err
	}

	for setIndex := range envelope.ResultSets {
		for _, raw := range envelope.rows(setIndex) {
			var row repositoryRow
			if err := json.Unmarshal(raw, &row); err != nil || row.RepositoryName != repository {
				continue
			}
			guid := row.RepositoryGUID
			if guid == "" {
				guid = row.RepoGUID
			}
			if guid == "" {
				return RepositoryInfo{}, fmt.Errorf("repository %s has no GUID", repository)
			}
			return RepositoryInfo{Name: row.RepositoryName, GUID: guid}, nil
		}
	}
	return RepositoryInfo{}, fmt.Errorf("%w: repository %s in team %s", ErrNotFound, repository, team)
}
