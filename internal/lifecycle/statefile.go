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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrStateFileExists is returned when trying to create a state file that already exists.
	ErrStateFileExists = errors.New("agent state file already exists")

	// ErrStateFileLocked is returned when another process holds the state file lock.
	ErrStateFileLocked = errors.New("agent state file is locked by another process")

	// ErrInvalidState is returned when the state file contains invalid data.
	ErrInvalidState = errors.New("invalid agent state")

	// ErrUnsafeDirectory is returned when the state file parent is world-writable.
	ErrUnsafeDirectory = errors.New("state file directory is world-writable")
)

// State records a running agent so that other invocations can reach it.
type State struct {
	PID       int       `yaml:"pid"`
	APIURL    string    `yaml:"api_url"`
	BinPath   string    `yaml:"bin_path,omitempty"`
	StartedAt time.Time `yaml:"started_at"`
}

// StateFile manages the agent state file. It uses exclusive file locking
// (flock) and atomic creation (O_EXCL) to prevent race conditions and
// symlink attacks. The lock is held until Remove.
type StateFile struct {
	path     string
	lockFile *os.File
}

// NewStateFile creates a state file manager for the given path.
func NewStateFile(path string) *StateFile {
	return &StateFile{
		path: path,
	}
}

// Path returns the state file location.
func (m *StateFile) Path() string {
	return m.path
}

// Create writes the state with exclusive locking. It creates the parent
// directory if needed and sets restrictive permissions.
func (m *StateFile) Create(st State) error {
	if st.PID <= 0 {
		return fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidState, st.PID)
	}

	parentDir := filepath.Dir(m.path)
	if err := m.verifyDirectorySafety(parentDir); err != nil {
		return fmt.Errorf("unsafe state file location: %w", err)
	}

	if err := os.MkdirAll(parentDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	// O_RDWR is needed for flock
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return ErrStateFileExists
		}
		return fmt.Errorf("failed to create state file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		os.Remove(m.path)
		if err == syscall.EWOULDBLOCK {
			return ErrStateFileLocked
		}
		return fmt.Errorf("failed to lock state file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(m.path)
		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(m.path)
		return fmt.Errorf("failed to sync state file: %w", err)
	}

	m.lockFile = f
	return nil
}

// Read reads the recorded state. A missing file returns an error matching
// os.ErrNotExist.
func (m *StateFile) Read() (State, error) {
	var st State

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, err
		}
		return st, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if st.PID <= 0 {
		return st, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidState, st.PID)
	}
	if st.APIURL == "" {
		return st, fmt.Errorf("%w: missing api_url", ErrInvalidState)
	}
	return st, nil
}

// Remove deletes the state file and releases the lock.
func (m *StateFile) Remove() error {
	if m.lockFile != nil {
		syscall.Flock(int(m.lockFile.Fd()), syscall.LOCK_UN)
		m.lockFile.Close()
		m.lockFile = nil
	}

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// Exists returns true if the state file exists.
func (m *StateFile) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// verifyDirectorySafety checks that the directory is not world-writable.
func (m *StateFile) verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	mode := info.Mode()
	if mode&0002 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}
	return nil
}
