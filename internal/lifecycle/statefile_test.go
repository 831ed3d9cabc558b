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
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func testState(pid int) State {
	return State{
		PID:       pid,
		APIURL:    "http://127.0.0.1:4040",
		BinPath:   "/usr/local/bin/ngrok",
		StartedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStateFile_Create(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("round trips state with restrictive permissions", func(t *testing.T) {
		path := filepath.Join(tmpDir, "agent.state")
		m := NewStateFile(path)
		defer m.Remove()

		want := testState(1234)
		if err := m.Create(want); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if !m.Exists() {
			t.Error("state file does not exist after Create()")
		}

		got, err := m.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.PID != want.PID || got.APIURL != want.APIURL || got.BinPath != want.BinPath {
			t.Errorf("Read() = %+v, want %+v", got, want)
		}
		if !got.StartedAt.Equal(want.StartedAt) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0600 {
			t.Errorf("state file mode = %04o, want 0600", mode)
		}
	})

	t.Run("returns error if file already exists", func(t *testing.T) {
		path := filepath.Join(tmpDir, "duplicate.state")
		m1 := NewStateFile(path)
		m2 := NewStateFile(path)
		defer m1.Remove()

		if err := m1.Create(testState(1234)); err != nil {
			t.Fatalf("First Create() error = %v", err)
		}

		err := m2.Create(testState(5678))
		if !errors.Is(err, ErrStateFileExists) {
			t.Errorf("Second Create() error = %v, want ErrStateFileExists", err)
		}
	})

	t.Run("rejects non-positive PID", func(t *testing.T) {
		m := NewStateFile(filepath.Join(tmpDir, "zero.state"))
		if err := m.Create(testState(0)); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Create() error = %v, want ErrInvalidState", err)
		}
	})

	t.Run("creates parent directory if missing", func(t *testing.T) {
		deepPath := filepath.Join(tmpDir, "nested", "dir", "agent.state")
		m := NewStateFile(deepPath)
		defer m.Remove()

		if err := m.Create(testState(1234)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		info, err := os.Stat(filepath.Dir(deepPath))
		if err != nil {
			t.Fatalf("Parent directory not created: %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0700 {
			t.Errorf("Parent directory mode = %04o, want 0700", mode)
		}
	})
}

func TestStateFile_Read(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns error for non-existent file", func(t *testing.T) {
		m := NewStateFile(filepath.Join(tmpDir, "nonexistent.state"))
		_, err := m.Read()
		if !os.IsNotExist(err) {
			t.Errorf("Read() error = %v, want os.IsNotExist", err)
		}
	})

	t.Run("returns error for invalid content", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
		}{
			{"not yaml", "pid: [oops"},
			{"non-numeric pid", "pid: abc\napi_url: http://127.0.0.1:4040\n"},
			{"zero pid", "pid: 0\napi_url: http://127.0.0.1:4040\n"},
			{"missing url", "pid: 42\n"},
			{"empty", ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(tmpDir, tt.name+".state")
				if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
					t.Fatalf("Failed to create test file: %v", err)
				}

				_, err := NewStateFile(path).Read()
				if !errors.Is(err, ErrInvalidState) {
					t.Errorf("Read() error = %v, want ErrInvalidState", err)
				}
			})
		}
	})
}

func TestStateFile_Remove(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("removes file and releases lock", func(t *testing.T) {
		path := filepath.Join(tmpDir, "remove.state")
		m := NewStateFile(path)

		if err := m.Create(testState(1234)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := m.Remove(); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if m.Exists() {
			t.Error("state file still exists after Remove()")
		}

		m2 := NewStateFile(path)
		defer m2.Remove()
		if err := m2.Create(testState(5678)); err != nil {
			t.Errorf("Create() after Remove() error = %v", err)
		}
	})

	t.Run("succeeds if file already removed", func(t *testing.T) {
		m := NewStateFile(filepath.Join(tmpDir, "already-removed.state"))
		if err := m.Remove(); err != nil {
			t.Errorf("Remove() error = %v, want nil", err)
		}
	})
}

func TestStateFile_DirectorySafety(t *testing.T) {
	tmpDir := t.TempDir()
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	if err := os.Mkdir(unsafeDir, 0777); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}
	// umask may strip the bit
	if err := os.Chmod(unsafeDir, 0777); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}

	info, err := os.Stat(unsafeDir)
	if err != nil {
		t.Fatalf("Failed to stat unsafe directory: %v", err)
	}
	if info.Mode()&0002 == 0 {
		t.Skip("Platform doesn't support world-writable directories in this context")
	}

	m := NewStateFile(filepath.Join(unsafeDir, "agent.state"))
	err = m.Create(testState(1234))
	if err == nil {
		m.Remove()
		t.Fatal("Create() in world-writable directory succeeded, want error")
	}
	if !errors.Is(err, ErrUnsafeDirectory) {
		t.Errorf("Create() error = %v, want ErrUnsafeDirectory", err)
	}
}

func TestStateFile_FileLocking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flock.state")
	m := NewStateFile(path)
	defer m.Remove()

	if err := m.Create(testState(1234)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("Failed to open state file: %v", err)
	}
	defer f.Close()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		t.Fatal("Acquired lock on already-locked file")
	}
	if err != syscall.EWOULDBLOCK {
		t.Errorf("Flock error = %v, want EWOULDBLOCK", err)
	}
}
