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
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Spawner starts agent processes.
type Spawner struct {
	// Env is the environment of the child process
	Env []string
}

// NewSpawner creates a new process spawner.
func NewSpawner() *Spawner {
	return &Spawner{
		Env: os.Environ(),
	}
}

// WithEnv sets the environment for the spawned process.
func (s *Spawner) WithEnv(env []string) *Spawner {
	s.Env = env
	return s
}

// Child is a started process with its output streams.
type Child struct {
	Cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// PID returns the process ID.
func (c *Child) PID() int {
	return c.Cmd.Process.Pid
}

// Start starts binary with args and returns pipes to its stdout and stderr.
// The child runs in its own process group so a terminal interrupt reaches
// only the parent, which can then remove tunnels before stopping the
// agent. The caller must drain both pipes and call Cmd.Wait.
func (s *Spawner) Start(binary string, args []string) (*Child, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = s.Env
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Child{Cmd: cmd, Stdout: stdout, Stderr: stderr}, nil
}
