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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// IsAgentProcess checks if the given PID runs the agent binary. This
// prevents signalling an unrelated process that reused a stale PID.
func IsAgentProcess(pid int, binPath string) bool {
	args, err := processArgs(pid)
	if err != nil {
		return false
	}
	return commandMatches(args, binPath)
}

// commandMatches reports whether a process argument vector runs binPath
// with the agent's "start" subcommand. The binary may follow an
// interpreter.
func commandMatches(args []string, binPath string) bool {
	name := filepath.Base(binPath)
	if name == "" || name == "." {
		name = DefaultBinPath
	}
	for i, a := range args {
		if filepath.Base(a) != name {
			continue
		}
		for _, arg := range args[i+1:] {
			if arg == "start" {
				return true
			}
		}
		return false
	}
	return false
}

// SendSignal sends a signal to the given process.
func SendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}
	return nil
}

// WaitForExit waits for the process to exit, checking every interval.
// Returns ErrShutdownTimeout if the process is still running after timeout.
func WaitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ErrShutdownTimeout
}

// GracefulShutdown sends SIGTERM to a process and waits for it to exit,
// then sends SIGKILL if it is still running after timeout.
func GracefulShutdown(ctx context.Context, pid int, timeout time.Duration) error {
	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	err := WaitForExit(ctx, pid, timeout)
	if err == nil || !errors.Is(err, ErrShutdownTimeout) {
		return err
	}

	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	if err := WaitForExit(ctx, pid, 5*time.Second); err != nil {
		return fmt.Errorf("process did not die after SIGKILL: %w", err)
	}
	return nil
}
