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

// NewDisconnectCommand creates the disconnect command.
func NewDisconnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disconnect [url]",
		Short: "Stop tunnels on the running agent",
		Long: `Stop the tunnel with the given public URL, or every tunnel when no URL
is given. The agent keeps running; use kill to stop it.

Examples:
  tunnelctl disconnect https://abc123.ngrok.io
  tunnelctl disconnect`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDisconnect,
	}
	return cmd
}

func runDisconnect(cmd *cobra.Command, args []string) error {
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

	var publicURL string
	if len(args) > 0 {
		publicURL = args[0]
	}
	if err := agent.Disconnect(ctx, publicURL); err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			PublicURL string `json:"public_url,omitempty"`
		}{shared.NewJSONResponse("disconnect"), publicURL})
	}
	if shared.GetQuiet() {
		return nil
	}
	if publicURL == "" {
		fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("All tunnels stopped"))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Stopped "+publicURL))
	return nil
}
