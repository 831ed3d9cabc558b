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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// overlayConfig is the agent config written to carry settings that have no
// command line flag.
type overlayConfig struct {
	Version string `yaml:"version"`
	WebAddr string `yaml:"web_addr,omitempty"`
}

// startArgs builds the agent command line. The agent is started without
// tunnels and logs logfmt to stdout so its API address can be discovered.
func startArgs(pc ProcessConfig, configPaths []string) []string {
	args := []string{"start", "--none", "--log=stdout", "--log-format=logfmt"}
	if pc.Authtoken != "" {
		args = append(args, "--authtoken="+pc.Authtoken)
	}
	if pc.Region != "" {
		args = append(args, "--region="+pc.Region)
	}
	if len(configPaths) > 0 {
		args = append(args, "--config="+strings.Join(configPaths, ","))
	}
	return args
}

// configPaths lists the config files to pass to the agent. Passing any
// config replaces the agent's default file, so when only an overlay is
// needed the default file is listed first to keep its settings.
func configPaths(explicit, overlay string) []string {
	var paths []string
	switch {
	case explicit != "":
		paths = append(paths, explicit)
	case overlay != "":
		if def := defaultAgentConfigPath(); def != "" {
			paths = append(paths, def)
		}
	}
	if overlay != "" {
		paths = append(paths, overlay)
	}
	return paths
}

// writeOverlay writes an overlay config for webAddr into dir. Returns "" when
// no overlay is needed.
func writeOverlay(dir, webAddr string) (string, error) {
	if webAddr == "" {
		return "", nil
	}

	data, err := yaml.Marshal(overlayConfig{Version: "2", WebAddr: webAddr})
	if err != nil {
		return "", fmt.Errorf("failed to encode overlay config: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "agent-*.yml")
	if err != nil {
		return "", fmt.Errorf("failed to create overlay config: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write overlay config: %w", err)
	}
	return f.Name(), nil
}

// defaultAgentConfigPath returns the agent's own default config file if it
// exists.
func defaultAgentConfigPath() string {
	var candidates []string
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "ngrok", "ngrok.yml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".ngrok2", "ngrok.yml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
