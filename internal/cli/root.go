// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tombee/tunnelctl/internal/commands/shared"
	"github.com/tombee/tunnelctl/internal/commands/tunnels"
	versioncmd "github.com/tombee/tunnelctl/internal/commands/version"
)

// Command groups shown in help output.
const (
	groupTunnels = "tunnels"
	groupAgent   = "agent"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for tunnelctl
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunnelctl",
		Short: "tunnelctl - drive the ngrok agent from the command line",
		Long: `tunnelctl starts the ngrok agent, opens tunnels through its local API
and tears them down again. It waits out the agent's session setup, adopts
tunnels that already exist under the requested name, and stops the agent
when it is done.

Run 'tunnelctl authtoken <token>' once, then 'tunnelctl connect http 8080'.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	verbose, quiet, json, config := shared.RegisterFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/tunnelctl/config.yaml)")

	cmd.AddGroup(
		&cobra.Group{ID: groupTunnels, Title: "Tunnel Commands:"},
		&cobra.Group{ID: groupAgent, Title: "Agent Commands:"},
	)

	for _, sub := range []*cobra.Command{
		tunnels.NewConnectCommand(),
		tunnels.NewDisconnectCommand(),
		tunnels.NewListCommand(),
	} {
		sub.GroupID = groupTunnels
		cmd.AddCommand(sub)
	}
	for _, sub := range []*cobra.Command{
		tunnels.NewKillCommand(),
		tunnels.NewAuthtokenCommand(),
		versioncmd.NewVersionCommand(),
	} {
		sub.GroupID = groupAgent
		cmd.AddCommand(sub)
	}

	// Custom help command with JSON support
	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
