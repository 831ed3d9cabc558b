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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/tombee/tunnelctl/internal/config"
	"github.com/tombee/tunnelctl/internal/log"
	pkgerrors "github.com/tombee/tunnelctl/pkg/errors"
)

const (
	// DefaultBinPath is the agent binary looked up on PATH.
	DefaultBinPath = "ngrok"

	// DefaultStartTimeout bounds how long the agent may take to print its
	// API address.
	DefaultStartTimeout = 10 * time.Second

	stopTimeout = 5 * time.Second
)

// ErrAgentNotRunning is returned by Locate when no running agent is
// recorded.
var ErrAgentNotRunning = errors.New("agent is not running")

// ProcessConfig holds the settings an agent process is started with.
type ProcessConfig struct {
	Authtoken    string
	ConfigPath   string
	Region       string
	WebAddr      string
	StartTimeout time.Duration
}

// AgentConfig configures an AgentProcess.
type AgentConfig struct {
	// BinPath is the agent binary. Default: ngrok
	BinPath string

	// StateDir holds the state file, the journal and overlay configs.
	// Default: config.StateDir()
	StateDir string

	// Env is the agent's environment. Default: os.Environ()
	Env []string

	Logger *slog.Logger
	Clock  clock.Clock
}

// StartError reports an agent that failed to start.
type StartError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent failed to start: %s: %v", e.Reason, e.Err)
	}
	return "agent failed to start: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *StartError) Unwrap() error {
	return e.Err
}

// IsUserVisible implements errors.UserVisibleError.
func (e *StartError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *StartError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError.
func (e *StartError) Suggestion() string {
	reason := strings.ToLower(e.Reason)
	switch {
	case errors.Is(e.Err, os.ErrNotExist), strings.Contains(reason, "could not run"):
		return "Install the ngrok agent or set agent.bin_path in the config file"
	case strings.Contains(reason, "authtoken"), strings.Contains(reason, "authentication"):
		return "Set your authtoken: tunnelctl authtoken <token>"
	case strings.Contains(reason, "address already in use"):
		return "Another agent is using the API address; run tunnelctl kill or set agent.web_addr"
	default:
		return ""
	}
}

// AgentProcess supervises one agent process.
type AgentProcess struct {
	cfg     AgentConfig
	spawner *Spawner
	state   *StateFile
	journal *Journal
	logger  *slog.Logger
	clock   clock.Clock

	mu      sync.Mutex
	pid     int
	apiURL  string
	overlay string
	// exited is closed when a child started by this process exits. Nil for
	// located agents.
	exited chan struct{}
}

// NewAgentProcess creates a supervisor for the agent binary in cfg.
func NewAgentProcess(cfg AgentConfig) *AgentProcess {
	if cfg.BinPath == "" {
		cfg.BinPath = DefaultBinPath
	}
	if cfg.StateDir == "" {
		cfg.StateDir = config.StateDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	spawner := NewSpawner()
	if cfg.Env != nil {
		spawner.WithEnv(cfg.Env)
	}

	return &AgentProcess{
		cfg:     cfg,
		spawner: spawner,
		state:   NewStateFile(filepath.Join(cfg.StateDir, "agent.state")),
		journal: NewJournal(filepath.Join(cfg.StateDir, "agent.journal")),
		logger:  log.WithComponent(cfg.Logger, "supervisor"),
		clock:   cfg.Clock,
	}
}

func (p *AgentProcess) bin() string {
	return p.cfg.BinPath
}

// PID returns the supervised process ID, or 0.
func (p *AgentProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Acquire returns the API URL of the supervised agent, starting it if it is
// not running.
func (p *AgentProcess) Acquire(ctx context.Context, pc ProcessConfig) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.apiURL != "" && p.alive() {
		return p.apiURL, nil
	}
	p.cleanup()

	timeout := pc.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	overlay, err := writeOverlay(p.cfg.StateDir, pc.WebAddr)
	if err != nil {
		return "", err
	}
	args := startArgs(pc, configPaths(pc.ConfigPath, overlay))

	started := p.clock.Now()
	child, err := p.spawner.Start(p.bin(), args)
	if err != nil {
		removeFile(overlay)
		startErr := &StartError{Reason: "could not run " + p.bin(), Err: err}
		p.journal.LogStartFailure(args, startErr)
		return "", startErr
	}

	exited := make(chan struct{})
	apiURL, err := p.awaitStartup(ctx, child, exited, timeout)
	if err == nil {
		if herr := NewHealthChecker(apiURL).WaitUntilHealthy(ctx, timeout); herr != nil {
			err = &StartError{Reason: "agent API at " + apiURL + " is not answering", Err: herr}
		}
	}
	if err != nil {
		p.kill(child.PID(), exited)
		removeFile(overlay)
		p.journal.LogStartFailure(args, err)
		return "", err
	}

	p.pid = child.PID()
	p.apiURL = apiURL
	p.overlay = overlay
	p.exited = exited
	p.recordState()
	p.journal.LogStart(p.pid, apiURL, args, p.clock.Now().Sub(started))
	p.logger.Debug("agent started", "pid", p.pid, log.APIURLKey, apiURL)

	return apiURL, nil
}

type startupResult struct {
	apiURL string
	err    error
}

// awaitStartup reads the child's output until it reports its API address,
// reports an error, exits, or timeout elapses. exited is closed once the
// child has been reaped.
func (p *AgentProcess) awaitStartup(ctx context.Context, child *Child, exited chan struct{}, timeout time.Duration) (string, error) {
	results := make(chan startupResult, 2)

	var exitErr error
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.scanStdout(child.Stdout, results)
	}()
	go func() {
		defer readers.Done()
		p.scanStderr(child.Stderr, results)
	}()
	go func() {
		// Wait closes the pipes, so reap only after both readers are done.
		readers.Wait()
		exitErr = child.Cmd.Wait()
		close(exited)
	}()

	select {
	case r := <-results:
		return r.apiURL, r.err
	case <-exited:
		select {
		case r := <-results:
			if r.err != nil {
				return "", r.err
			}
		default:
		}
		return "", &StartError{Reason: "agent exited before its API started", Err: exitErr}
	case <-p.clock.After(timeout):
		return "", &pkgerrors.TimeoutError{Operation: "agent start", Duration: timeout}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *AgentProcess) scanStdout(r io.Reader, results chan<- startupResult) {
	sc := bufio.NewScanner(r)
	reported := false
	for sc.Scan() {
		line := sc.Text()
		log.Trace(p.logger, "agent output", slog.String("line", line))

		if msg, ok := LineError(line); ok {
			if !reported {
				reported = true
				results <- startupResult{err: &StartError{Reason: msg}}
				continue
			}
			p.logger.Warn("agent reported an error", "error", msg)
			continue
		}
		if reported {
			continue
		}
		if apiURL, ok := DiscoverAddr(line); ok {
			reported = true
			results <- startupResult{apiURL: apiURL}
		}
	}
}

func (p *AgentProcess) scanStderr(r io.Reader, results chan<- startupResult) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p.logger.Warn("agent stderr", "line", line)
		select {
		case results <- startupResult{err: &StartError{Reason: line}}:
		default:
		}
	}
}

// recordState writes the state file so other invocations can locate the
// agent. A state file left by a dead agent is replaced.
func (p *AgentProcess) recordState() {
	st := State{PID: p.pid, APIURL: p.apiURL, BinPath: p.bin(), StartedAt: p.clock.Now()}

	err := p.state.Create(st)
	if errors.Is(err, ErrStateFileExists) {
		prev, rerr := p.state.Read()
		if rerr == nil && IsProcessRunning(prev.PID) && IsAgentProcess(prev.PID, prev.BinPath) {
			p.logger.Warn("another agent is already recorded; this one will not be locatable",
				"pid", prev.PID, log.APIURLKey, prev.APIURL)
			return
		}
		p.journal.LogStale(prev.PID, "replaced by new agent")
		p.state.Remove()
		err = p.state.Create(st)
	}
	if err != nil {
		p.logger.Warn("failed to record agent state", log.Error(err))
	}
}

// Locate finds an agent started by another invocation through the state
// file and returns its API URL. Stale state is removed.
func (p *AgentProcess) Locate(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.apiURL != "" && p.alive() {
		return p.apiURL, nil
	}

	st, err := p.state.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrAgentNotRunning
		}
		if errors.Is(err, ErrInvalidState) {
			p.journal.LogStale(0, err.Error())
			p.state.Remove()
		}
		return "", fmt.Errorf("%w: %v", ErrAgentNotRunning, err)
	}

	bin := st.BinPath
	if bin == "" {
		bin = p.bin()
	}
	if !IsProcessRunning(st.PID) || !IsAgentProcess(st.PID, bin) {
		p.journal.LogStale(st.PID, "process is not a running agent")
		p.state.Remove()
		return "", ErrAgentNotRunning
	}

	if r := NewHealthChecker(st.APIURL).Check(ctx); !r.Success {
		return "", fmt.Errorf("%w: API at %s is not answering: %v", ErrAgentNotRunning, st.APIURL, r.Error)
	}

	p.pid = st.PID
	p.apiURL = st.APIURL
	p.exited = nil
	return st.APIURL, nil
}

// Terminate stops the supervised agent with SIGTERM, then SIGKILL if it has
// not exited within a few seconds, and removes its state. It does nothing
// when no agent is supervised.
func (p *AgentProcess) Terminate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil
	}

	var err error
	if p.exited != nil {
		err = p.stopChild(ctx, p.pid, p.exited)
	} else {
		err = GracefulShutdown(ctx, p.pid, stopTimeout)
		if errors.Is(err, ErrProcessNotRunning) {
			err = nil
		}
	}
	p.journal.LogStop(p.pid, err)
	if err != nil {
		return err
	}

	p.cleanup()
	return nil
}

// stopChild stops a child started by this process and waits for it to be
// reaped.
func (p *AgentProcess) stopChild(ctx context.Context, pid int, exited <-chan struct{}) error {
	select {
	case <-exited:
		return nil
	default:
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		p.logger.Debug("SIGTERM failed", log.Error(err))
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(stopTimeout):
	}

	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		p.logger.Debug("SIGKILL failed", log.Error(err))
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(stopTimeout):
		return fmt.Errorf("agent %d did not exit after SIGKILL: %w", pid, ErrShutdownTimeout)
	}
}

// kill stops a child that failed to start. Errors are logged only.
func (p *AgentProcess) kill(pid int, exited <-chan struct{}) {
	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		p.logger.Debug("failed to kill agent", "pid", pid, log.Error(err))
	}
	select {
	case <-exited:
	case <-p.clock.After(stopTimeout):
		p.logger.Warn("agent did not exit after SIGKILL", "pid", pid)
	}
}

// alive reports whether the supervised agent is still running.
func (p *AgentProcess) alive() bool {
	if p.exited != nil {
		select {
		case <-p.exited:
			return false
		default:
			return true
		}
	}
	return p.pid != 0 && IsProcessRunning(p.pid)
}

// cleanup forgets the supervised agent and removes its state and overlay.
func (p *AgentProcess) cleanup() {
	if p.pid != 0 {
		if st, err := p.state.Read(); err == nil && st.PID == p.pid {
			p.state.Remove()
		}
	}
	removeFile(p.overlay)
	p.pid = 0
	p.apiURL = ""
	p.overlay = ""
	p.exited = nil
}

func removeFile(path string) {
	if path != "" {
		os.Remove(path)
	}
}
