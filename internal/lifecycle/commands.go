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

package lifecycle

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	pkgerrors "github.com/tombee/tunnelctl/pkg/errors"
	"github.com/tombee/tunnelctl/pkg/secrets"
)

var versionRe = regexp.MustCompile(`\d+\.\d+\.\d+[0-9A-Za-z.+-]*`)

// SetAuthtoken stores token in the agent's config file (configPath, or the
// agent default when empty).
func (p *AgentProcess) SetAuthtoken(ctx context.Context, token, configPath string) error {
	if token == "" {
		return &pkgerrors.ValidationError{
			Field:   "authtoken",
			Message: "authtoken is required",
			Hint:    "Copy your authtoken from the ngrok dashboard",
		}
	}

	args := []string{"config", "add-authtoken", token}
	if configPath != "" {
		args = append(args, "--config="+configPath)
	}

	cmd := exec.CommandContext(ctx, p.bin(), args...)
	cmd.Env = p.spawner.Env
	out, err := cmd.CombinedOutput()
	if err != nil {
		m := secrets.NewMasker()
		m.AddSecret(token)
		return fmt.Errorf("add authtoken: %s: %w", m.Mask(strings.TrimSpace(string(out))), err)
	}
	return nil
}

// Version returns the agent binary's version, e.g. "3.5.0".
func (p *AgentProcess) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, p.bin(), "--version")
	cmd.Env = p.spawner.Env
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("agent version: %w", err)
	}
	return ParseVersion(string(out))
}

// ParseVersion extracts the version number from the agent's --version
// output ("ngrok version 3.5.0").
func ParseVersion(output string) (string, error) {
	v := versionRe.FindString(output)
	if v == "" {
		return "", fmt.Errorf("agent version: unrecognized output %q", strings.TrimSpace(output))
	}
	return v, nil
}
