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

package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/tombee/tunnelctl/internal/client"
	"github.com/tombee/tunnelctl/internal/lifecycle"
	"github.com/tombee/tunnelctl/internal/log"
	"github.com/tombee/tunnelctl/pkg/secrets"
)

// Supervisor owns the agent process.
type Supervisor interface {
	// Acquire returns the API URL of a running agent, starting one if
	// needed.
	Acquire(ctx context.Context, cfg lifecycle.ProcessConfig) (string, error)

	// Terminate stops the agent process.
	Terminate(ctx context.Context) error

	// SetAuthtoken stores the account credential in the agent config.
	SetAuthtoken(ctx context.Context, token, configPath string) error

	// Version reports the agent version.
	Version(ctx context.Context) (string, error)
}

// Agent is a handle on one agent process and the tunnels this process
// established through it. The zero value is not usable; use New.
type Agent struct {
	mu         sync.Mutex
	apiURL     string
	client     *client.Client
	sessions   map[string]*Session
	supervisor Supervisor

	clock         clock.Clock
	logger        *slog.Logger
	masker        *secrets.Masker
	policy        *Policy
	maxRetries    int
	maxRenames    int
	retryInterval time.Duration
	startTimeout  time.Duration
	clientOpts    []client.Option
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithSupervisor sets the process supervisor. Without one, Connect starts
// the agent binary named by Options.BinPath.
func WithSupervisor(s Supervisor) AgentOption {
	return func(a *Agent) { a.supervisor = s }
}

// WithClock sets the clock used for retry waits.
func WithClock(c clock.Clock) AgentOption {
	return func(a *Agent) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithPolicy sets the fault policy used while reconciling.
func WithPolicy(p *Policy) AgentOption {
	return func(a *Agent) { a.policy = p }
}

// WithRetry sets the retry budget and the fixed wait between retries.
func WithRetry(maxRetries int, interval time.Duration) AgentOption {
	return func(a *Agent) {
		a.maxRetries = maxRetries
		a.retryInterval = interval
	}
}

// WithMaxRenames bounds renames after unresolvable name collisions.
func WithMaxRenames(n int) AgentOption {
	return func(a *Agent) { a.maxRenames = n }
}

// WithStartTimeout bounds how long the agent may take to start.
func WithStartTimeout(d time.Duration) AgentOption {
	return func(a *Agent) { a.startTimeout = d }
}

// WithClientOptions passes options to every agent API client the handle
// creates.
func WithClientOptions(opts ...client.Option) AgentOption {
	return func(a *Agent) { a.clientOpts = append(a.clientOpts, opts...) }
}

// New creates an Agent handle.
func New(opts ...AgentOption) *Agent {
	a := &Agent{
		sessions: make(map[string]*Session),
		clock:    clock.WallClock,
		logger:   log.Discard(),
		masker:   secrets.NewMasker(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.WithComponent(a.logger, "agent")
	return a
}

// Attach points the handle at an agent that is already running, for
// example one found with lifecycle.AgentProcess.Locate.
func (a *Agent) Attach(apiURL string) error {
	opts := append([]client.Option{client.WithLogger(a.logger)}, a.clientOpts...)
	c, err := client.New(apiURL, opts...)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.apiURL, a.client = apiURL, c
	a.mu.Unlock()
	return nil
}

// Connect starts or reuses the agent, creates the tunnel described by opts
// and returns its public URL. A later Connect replaces the endpoint held by
// the handle.
func (a *Agent) Connect(ctx context.Context, opts Options) (string, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return "", err
	}

	sup := a.supervisorFor(opts.BinPath)

	a.masker.AddSecret(opts.Authtoken)
	if opts.Authtoken != "" {
		if err := sup.SetAuthtoken(ctx, opts.Authtoken, opts.ConfigPath); err != nil {
			return "", fmt.Errorf("set authtoken: %w", err)
		}
	}
	a.logger.Info("using authtoken", "authtoken", secrets.MaskToken(opts.Authtoken))

	apiURL, err := sup.Acquire(ctx, lifecycle.ProcessConfig{
		Authtoken:    opts.Authtoken,
		ConfigPath:   opts.ConfigPath,
		Region:       opts.Region,
		WebAddr:      opts.WebAddr,
		StartTimeout: a.startTimeout,
	})
	if err != nil {
		return "", err
	}
	a.logger.Info("agent process started", log.APIURLKey, apiURL)

	if err := a.Attach(apiURL); err != nil {
		return "", err
	}

	r := &Reconciler{
		Client:        a.Client(),
		Policy:        a.policy,
		Clock:         a.clock,
		Logger:        a.logger,
		Masker:        a.masker,
		MaxRetries:    a.maxRetries,
		MaxRenames:    a.maxRenames,
		RetryInterval: a.retryInterval,
	}
	sess, err := r.Reconcile(ctx, opts)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	if _, ok := a.sessions[sess.PublicURL]; !ok {
		activeSessions.Inc()
	}
	a.sessions[sess.PublicURL] = sess
	a.mu.Unlock()

	return sess.PublicURL, nil
}

// Disconnect stops the tunnel with the given public URL, or every tunnel on
// the agent when publicURL is empty. Without a connected agent it does
// nothing.
func (a *Agent) Disconnect(ctx context.Context, publicURL string) error {
	td := &Teardown{
		Client:    a.Client(),
		Logger:    a.logger,
		OnStopped: a.forget,
	}
	return td.Stop(ctx, publicURL)
}

// SetAuthtoken stores opts.Authtoken in the agent config file.
func (a *Agent) SetAuthtoken(ctx context.Context, opts Options) error {
	return a.supervisorFor(opts.BinPath).SetAuthtoken(ctx, opts.Authtoken, opts.ConfigPath)
}

// Kill terminates the agent process and clears the handle so later calls
// no-op instead of reaching a dead endpoint. Without a connected agent it
// does nothing.
func (a *Agent) Kill(ctx context.Context) error {
	a.mu.Lock()
	connected := a.client != nil
	sup := a.supervisor
	a.mu.Unlock()

	if !connected {
		return nil
	}
	if sup != nil {
		if err := sup.Terminate(ctx); err != nil {
			return fmt.Errorf("terminate agent: %w", err)
		}
	}

	a.mu.Lock()
	activeSessions.Sub(float64(len(a.sessions)))
	a.apiURL = ""
	a.client = nil
	a.sessions = make(map[string]*Session)
	a.mu.Unlock()
	return nil
}

// URL returns the agent API URL, or "" when not connected.
func (a *Agent) URL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiURL
}

// Client returns the agent API client, or nil when not connected.
func (a *Agent) Client() *client.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// Version returns the agent binary's version.
func (a *Agent) Version(ctx context.Context, binPath string) (string, error) {
	return a.supervisorFor(binPath).Version(ctx)
}

// Sessions returns the tunnels established through this handle, ordered by
// name.
func (a *Agent) Sessions() []Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Agent) forget(publicURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[publicURL]; ok {
		delete(a.sessions, publicURL)
		activeSessions.Dec()
	}
}

func (a *Agent) supervisorFor(binPath string) Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.supervisor == nil {
		a.supervisor = lifecycle.NewAgentProcess(lifecycle.AgentConfig{
			BinPath: binPath,
			Logger:  a.logger,
		})
	}
	return a.supervisor
}
