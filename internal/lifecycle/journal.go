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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/tunnelctl/pkg/secrets"
)

// Journal appends agent lifecycle events (start, stop, stale state) to a
// JSON lines file for later inspection.
type Journal struct {
	path string
}

// NewJournal creates a journal writing to path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// LogStart records a started agent.
func (j *Journal) LogStart(pid int, apiURL string, args []string, d time.Duration) error {
	return j.write("start", slog.LevelInfo,
		slog.Int("pid", pid),
		slog.String("api_url", apiURL),
		slog.Any("flags", parseFlags(args)),
		slog.Int64("duration_ms", d.Milliseconds()),
	)
}

// LogStartFailure records an agent that failed to start.
func (j *Journal) LogStartFailure(args []string, err error) error {
	return j.write("start_failure", slog.LevelError,
		slog.Any("flags", parseFlags(args)),
		slog.String("error", err.Error()),
	)
}

// LogStop records a stopped agent.
func (j *Journal) LogStop(pid int, err error) error {
	if err != nil {
		return j.write("stop_failure", slog.LevelError, slog.Int("pid", pid), slog.String("error", err.Error()))
	}
	return j.write("stop", slog.LevelInfo, slog.Int("pid", pid))
}

// LogStale records a state file that no longer matches a running agent.
func (j *Journal) LogStale(pid int, reason string) error {
	return j.write("stale_state", slog.LevelWarn, slog.Int("pid", pid), slog.String("reason", reason))
}

// write appends one event to the journal file.
func (j *Journal) write(event string, level slog.Level, attrs ...slog.Attr) error {
	if j == nil || j.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	logger := slog.New(slog.NewJSONHandler(f, nil))
	logger.LogAttrs(context.Background(), level, event, attrs...)
	return nil
}

// parseFlags converts "--key=value" and "--flag" arguments to a map.
// Credential values are masked.
func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		key, value, ok := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !ok {
			value = "true"
		}
		if strings.Contains(key, "authtoken") {
			value = secrets.MaskToken(value)
		}
		flags[key] = value
	}

	return flags
}
