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

package version

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tombee/tunnelctl/internal/commands/shared"
)

// VersionInfo contains version metadata
type VersionInfo struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	BuildDate    string `json:"build_date"`
	AgentVersion string `json:"agent_version,omitempty"`
	AgentError   string `json:"agent_error,omitempty"`
}

// agentVersion asks the configured agent binary for its version. Replaced
// in tests.
var agentVersion = func(ctx context.Context) (string, error) {
	rt, err := shared.LoadRuntime()
	if err != nil {
		return "", err
	}
	defer rt.Close()
	return rt.NewAgent(rt.Supervisor()).Version(ctx, rt.Config.Agent.BinPath)
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version, commit hash, and build date for tunnelctl, and the
version of the ngrok agent it drives.`,
		RunE: runVersion,
	}

	return cmd
}

func runVersion(cmd *cobra.Command, args []string) error {
	v, c, b := shared.GetVersion()

	info := VersionInfo{
		Version:   v,
		Commit:    c,
		BuildDate: b,
	}
	if av, err := agentVersion(cmd.Context()); err != nil {
		info.AgentError = err.Error()
	} else {
		info.AgentVersion = av
	}

	if shared.GetJSON() {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("tunnelctl version %s\n", info.Version)
	cmd.Printf("  commit:     %s\n", info.Commit)
	cmd.Printf("  build date: %s\n", info.BuildDate)
	if info.AgentVersion != "" {
		cmd.Printf("  agent:      %s\n", info.AgentVersion)
	} else {
		cmd.Printf("  agent:      %s\n", shared.Muted.Render("unavailable ("+info.AgentError+")"))
	}

	return nil
}
