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

package tunnels

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/tunnelctl/internal/commands/shared"
)

// NewKillCommand creates the kill command.
func NewKillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Stop the running agent",
		Long: `Stop the agent process started by connect. Every tunnel on the agent
closes with it.`,
		Args: cobra.NoArgs,
		RunE: runKill,
	}
	return cmd
}

func runKill(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	agent, err := locateAgent(ctx, rt)
	if err != nil {
		return err
	}
	apiURL := agent.URL()

	if err := agent.Kill(ctx); err != nil {
		return shared.NewTunnelError("failed to stop agent", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			APIURL string `json:"api_url"`
		}{shared.NewJSONResponse("kill"), apiURL})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Agent stopped"))
	}
	return nil
}
