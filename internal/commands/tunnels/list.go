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

	"github.com/tombee/tunnelctl/internal/client"
	"github.com/tombee/tunnelctl/internal/commands/shared"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tunnels on the running agent",
		Long: `List every tunnel reported by the running agent, including tunnels
opened by other clients of the same agent.

Examples:
  tunnelctl list
  tunnelctl list --json`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
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

	tunnels, err := agent.Client().ListTunnels(ctx)
	if err != nil {
		return shared.NewAgentAPIError("failed to list tunnels", err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if tunnels == nil {
			tunnels = []client.Tunnel{}
		}
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			APIURL  string          `json:"api_url"`
			Tunnels []client.Tunnel `json:"tunnels"`
		}{shared.NewJSONResponse("list"), agent.URL(), tunnels})
	}

	if len(tunnels) == 0 {
		fmt.Fprintln(out, shared.Muted.Render("No tunnels"))
		return nil
	}

	fmt.Fprintf(out, "%s %s\n\n", shared.Header.Render("Tunnels"), shared.Muted.Render("("+agent.URL()+")"))
	fmt.Fprintf(out, "%s %s %s %s\n",
		shared.Bold.Render(fmt.Sprintf("%-20s", "NAME")),
		shared.Bold.Render(fmt.Sprintf("%-6s", "PROTO")),
		shared.Bold.Render(fmt.Sprintf("%-40s", "PUBLIC URL")),
		shared.Bold.Render("ADDR"))
	for _, t := range tunnels {
		fmt.Fprintf(out, "%-20s %-6s %-40s %s\n",
			truncate(t.Name, 20),
			t.Proto,
			t.PublicURL,
			t.Config.Addr)
	}
	return nil
}

// truncate truncates a string to the specified length.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
