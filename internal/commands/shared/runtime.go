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

package shared

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/tunnelctl/internal/config"
	"github.com/tombee/tunnelctl/internal/lifecycle"
	"github.com/tombee/tunnelctl/internal/log"
	"github.com/tombee/tunnelctl/internal/secrets"
	"github.com/tombee/tunnelctl/internal/tracing"
	"github.com/tombee/tunnelctl/internal/tunnel"
)

// Runtime holds the configuration and logger shared by agent commands.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger

	// Keychain is consulted last when resolving the authtoken. Nil uses the
	// system keychain.
	Keychain secrets.SecretBackend

	shutdownTracing tracing.ShutdownFunc
}

// LoadRuntime loads the config file named by --config, builds the logger
// and installs the configured trace exporter. Log records and stdout spans
// go to stderr. Callers must Close the runtime.
func LoadRuntime() (*Runtime, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, NewConfigError("failed to set up tracing", err)
	}

	return &Runtime{
		Config:          cfg,
		Logger:          NewLogger(cfg, os.Stderr),
		shutdownTracing: shutdown,
	}, nil
}

// Close flushes pending spans.
func (r *Runtime) Close() {
	if r.shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.shutdownTracing(ctx); err != nil {
		r.Logger.Warn("failed to flush traces", log.Error(err))
	}
}

// NewLogger builds a logger from the config file's log section. The
// TUNNELCTL_DEBUG, TUNNELCTL_LOG_LEVEL, LOG_LEVEL and LOG_FORMAT variables
// override it, and --verbose and --quiet override both.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	lc := log.FromEnv()
	lc.Output = w
	if os.Getenv("TUNNELCTL_DEBUG") == "" && os.Getenv("TUNNELCTL_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" {
		lc.Level = cfg.Log.Level
	}
	if os.Getenv("LOG_FORMAT") == "" {
		lc.Format = log.Format(cfg.Log.Format)
	}
	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "warn"
	}
	return log.New(lc)
}

// Supervisor returns a supervisor for the configured agent binary.
func (r *Runtime) Supervisor() *lifecycle.AgentProcess {
	return lifecycle.NewAgentProcess(lifecycle.AgentConfig{
		BinPath: r.Config.Agent.BinPath,
		Logger:  r.Logger,
	})
}

// NewAgent returns an Agent handle using sup and the configured retry
// policy.
func (r *Runtime) NewAgent(sup tunnel.Supervisor, opts ...tunnel.AgentOption) *tunnel.Agent {
	base := []tunnel.AgentOption{
		tunnel.WithSupervisor(sup),
		tunnel.WithLogger(r.Logger),
		tunnel.WithRetry(r.Config.Reconcile.MaxRetries, r.Config.Reconcile.RetryInterval),
		tunnel.WithStartTimeout(r.Config.Agent.StartTimeout),
	}
	return tunnel.New(append(base, opts...)...)
}

// Locate attaches an Agent handle to the agent started by another
// invocation. It returns an ExitError with ExitAgentNotRunning when there
// is none.
func (r *Runtime) Locate(ctx context.Context) (*tunnel.Agent, error) {
	sup := r.Supervisor()
	apiURL, err := sup.Locate(ctx)
	if err != nil {
		if errors.Is(err, lifecycle.ErrAgentNotRunning) {
			return nil, NewAgentNotRunningError(err)
		}
		return nil, err
	}

	agent := r.NewAgent(sup)
	if err := agent.Attach(apiURL); err != nil {
		return nil, err
	}
	return agent, nil
}

// ResolveAuthtoken returns the authtoken and where it came from: the flag
// value, the environment, the config file or the keychain. It returns
// empty strings when none holds one.
func (r *Runtime) ResolveAuthtoken(ctx context.Context, flag string) (token, source string) {
	if flag != "" {
		return flag, "flag"
	}

	keychain := r.Keychain
	if keychain == nil {
		keychain = secrets.NewKeychainBackend()
	}
	resolver := secrets.NewResolver(
		secrets.NewEnvBackend(),
		secrets.NewStaticBackend("config", map[string]string{secrets.AuthtokenKey: r.Config.Agent.Authtoken}),
		keychain,
	)

	token, source, err := resolver.Lookup(ctx, secrets.AuthtokenKey)
	if err != nil {
		if !errors.Is(err, secrets.ErrSecretNotFound) {
			r.Logger.Debug("authtoken lookup failed", log.Error(err))
		}
		return "", ""
	}
	return token, source
}
