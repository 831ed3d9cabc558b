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
	"github.com/tombee/tunnelctl/internal/secrets"
	"github.com/tombee/tunnelctl/internal/tunnel"
)

// NewAuthtokenCommand creates the authtoken command.
func NewAuthtokenCommand() *cobra.Command {
	var (
		keychain    bool
		agentConfig string
	)

	cmd := &cobra.Command{
		Use:   "authtoken <token>",
		Short: "Save the account authtoken",
		Long: `Save the account authtoken in the agent config file.

With --keychain the token is also stored in the system keychain, where
connect finds it when neither --authtoken nor NGROK_AUTHTOKEN is set.

Examples:
  tunnelctl authtoken 2abcDEF...
  tunnelctl authtoken 2abcDEF... --keychain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			token := args[0]

			configPath := firstNonEmpty(agentConfig, rt.Config.Agent.ConfigPath)
			agent := rt.NewAgent(newSupervisor(rt))
			err = agent.SetAuthtoken(ctx, tunnel.Options{
				Authtoken:  token,
				ConfigPath: configPath,
				BinPath:    rt.Config.Agent.BinPath,
			})
			if err != nil {
				return err
			}

			stored := "agent config"
			if keychain {
				backend := secrets.NewKeychainBackend()
				if err := backend.Set(ctx, secrets.AuthtokenKey, token); err != nil {
					return shared.NewConfigError("failed to store authtoken in keychain", err)
				}
				stored += " and keychain"
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), struct {
					shared.JSONResponse
					Keychain bool `json:"keychain"`
				}{shared.NewJSONResponse("authtoken"), keychain})
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Authtoken saved to "+stored))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keychain, "keychain", false, "Also store the token in the system keychain")
	cmd.Flags().StringVar(&agentConfig, "agent-config", "", "Agent config file to write")

	return cmd
}
