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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/tombee/tunnelctl/pkg/errors"
)

// Environment variables read by Load.
const (
	EnvAuthtoken = "NGROK_AUTHTOKEN"
	EnvAgentBin  = "TUNNELCTL_AGENT_BIN"
	EnvTrace     = "TUNNELCTL_TRACE_EXPORTER"
)

// Config represents the complete tunnelctl configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// AgentConfig configures the agent process.
type AgentConfig struct {
	// BinPath is the agent binary, looked up on PATH when not absolute.
	// Environment: TUNNELCTL_AGENT_BIN
	// Default: ngrok
	BinPath string `yaml:"bin_path"`

	// ConfigPath is an agent config file passed to the process.
	ConfigPath string `yaml:"config_path,omitempty"`

	// Region selects the agent's ingress region.
	Region string `yaml:"region,omitempty"`

	// WebAddr is the bind address of the agent API.
	WebAddr string `yaml:"web_addr,omitempty"`

	// StartTimeout bounds how long the agent may take to print its API
	// address.
	// Default: 10s
	StartTimeout time.Duration `yaml:"start_timeout"`

	// Authtoken is the account credential. Prefer the keychain or
	// NGROK_AUTHTOKEN over storing it here.
	// Environment: NGROK_AUTHTOKEN
	Authtoken string `yaml:"authtoken,omitempty"`
}

// ReconcileConfig configures tunnel creation retries.
type ReconcileConfig struct {
	// MaxRetries is the number of retries for retriable failures.
	// Default: 100
	MaxRetries int `yaml:"max_retries"`

	// RetryInterval is the fixed wait between retries.
	// Default: 200ms
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Default: text
	Format string `yaml:"format"`
}

// TracingConfig configures span export for agent API calls.
type TracingConfig struct {
	// Exporter selects the destination: none, stdout or otlp.
	// Environment: TUNNELCTL_TRACE_EXPORTER
	// Default: none
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP/HTTP collector URL. Falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			BinPath:      "ngrok",
			StartTimeout: 10 * time.Second,
		},
		Reconcile: ReconcileConfig{
			MaxRetries:    100,
			RetryInterval: 200 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from an optional YAML file and the environment.
// Environment variables take precedence over the file. A missing file at
// the default location is not an error; a missing explicit path is.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		if p, err := ConfigPath(); err == nil {
			configPath = p
		}
	}

	if configPath != "" {
		err := cfg.loadFromFile(configPath)
		switch {
		case err == nil:
		case !explicit && errors.Is(err, os.ErrNotExist):
		default:
			return nil, &pkgerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero values left by a partial config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Agent.BinPath == "" {
		c.Agent.BinPath = defaults.Agent.BinPath
	}
	if c.Agent.StartTimeout == 0 {
		c.Agent.StartTimeout = defaults.Agent.StartTimeout
	}
	if c.Reconcile.MaxRetries == 0 {
		c.Reconcile.MaxRetries = defaults.Reconcile.MaxRetries
	}
	if c.Reconcile.RetryInterval == 0 {
		c.Reconcile.RetryInterval = defaults.Reconcile.RetryInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv(EnvAuthtoken); val != "" {
		c.Agent.Authtoken = val
	}
	if val := os.Getenv(EnvAgentBin); val != "" {
		c.Agent.BinPath = val
	}
	if val := os.Getenv(EnvTrace); val != "" {
		c.Tracing.Exporter = val
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	if c.Agent.StartTimeout < 0 {
		return &pkgerrors.ConfigError{Key: "agent.start_timeout", Reason: "must not be negative"}
	}
	if strings.EqualFold(c.Agent.WebAddr, "false") {
		return &pkgerrors.ConfigError{Key: "agent.web_addr", Reason: "disabling the agent API is not supported"}
	}
	if c.Reconcile.MaxRetries < 0 {
		return &pkgerrors.ConfigError{Key: "reconcile.max_retries", Reason: "must not be negative"}
	}
	if c.Reconcile.RetryInterval < 0 {
		return &pkgerrors.ConfigError{Key: "reconcile.retry_interval", Reason: "must not be negative"}
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return &pkgerrors.ConfigError{Key: "tracing.exporter", Reason: fmt.Sprintf("unknown exporter %q", c.Tracing.Exporter)}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return &pkgerrors.ConfigError{Key: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// Save writes the configuration to path with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
