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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tunnelctl/internal/config"
	"github.com/tombee/tunnelctl/internal/log"
	"github.com/tombee/tunnelctl/internal/secrets"
)

func clearLogEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TUNNELCTL_DEBUG", "TUNNELCTL_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
		t.Setenv(key, "")
	}
}

func TestLoadRuntime(t *testing.T) {
	clearLogEnv(t)
	t.Setenv("NGROK_AUTHTOKEN", "")
	t.Setenv("TUNNELCTL_AGENT_BIN", "")
	t.Cleanup(ResetFlagsForTest)

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agent:\n  bin_path: /opt/ngrok\n  region: eu\nreconcile:\n  retry_interval: 50ms\n"), 0600))
		SetConfigPathForTest(path)

		rt, err := LoadRuntime()
		require.NoError(t, err)
		assert.Equal(t, "/opt/ngrok", rt.Config.Agent.BinPath)
		assert.Equal(t, "eu", rt.Config.Agent.Region)
		assert.Equal(t, 50*time.Millisecond, rt.Config.Reconcile.RetryInterval)
		assert.Equal(t, 100, rt.Config.Reconcile.MaxRetries)
		assert.NotNil(t, rt.Logger)
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0600))
		SetConfigPathForTest(path)

		_, err := LoadRuntime()
		require.Error(t, err)
		assert.Equal(t, ExitInvalidConfig, ExitCode(err))
	})

	t.Run("missing explicit file", func(t *testing.T) {
		SetConfigPathForTest(filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := LoadRuntime()
		assert.Equal(t, ExitInvalidConfig, ExitCode(err))
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		verbose   bool
		quiet     bool
		cfgLevel  string
		wantDebug bool
		wantInfo  bool
	}{
		{name: "config level", cfgLevel: "info", wantInfo: true},
		{name: "config debug", cfgLevel: "debug", wantDebug: true, wantInfo: true},
		{name: "env overrides config", cfgLevel: "info", env: map[string]string{"LOG_LEVEL": "debug"}, wantDebug: true, wantInfo: true},
		{name: "verbose overrides all", cfgLevel: "error", env: map[string]string{"LOG_LEVEL": "error"}, verbose: true, wantDebug: true, wantInfo: true},
		{name: "quiet", cfgLevel: "debug", quiet: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLogEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			t.Cleanup(ResetFlagsForTest)
			verboseFlag, quietFlag = tt.verbose, tt.quiet

			cfg := config.Default()
			cfg.Log.Level = tt.cfgLevel
			cfg.Log.Format = "json"

			var buf bytes.Buffer
			logger := NewLogger(cfg, &buf)
			ctx := context.Background()

			assert.Equal(t, tt.wantDebug, logger.Enabled(ctx, -4), "debug enabled")
			assert.Equal(t, tt.wantInfo, logger.Enabled(ctx, 0), "info enabled")

			logger.Warn("probe")
			assert.Contains(t, buf.String(), `"msg":"probe"`)
		})
	}
}

func TestResolveAuthtoken(t *testing.T) {
	tests := []struct {
		name       string
		flag       string
		env        string
		config     string
		keychain   string
		wantToken  string
		wantSource string
	}{
		{name: "flag first", flag: "flag-tok", env: "env-tok", config: "cfg-tok", keychain: "kc-tok", wantToken: "flag-tok", wantSource: "flag"},
		{name: "env before config", env: "env-tok", config: "cfg-tok", keychain: "kc-tok", wantToken: "env-tok", wantSource: "env"},
		{name: "config before keychain", config: "cfg-tok", keychain: "kc-tok", wantToken: "cfg-tok", wantSource: "config"},
		{name: "keychain last", keychain: "kc-tok", wantToken: "kc-tok", wantSource: "keychain"},
		{name: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NGROK_AUTHTOKEN", tt.env)
			t.Setenv("TUNNELCTL_SECRET_AUTHTOKEN", "")

			cfg := config.Default()
			cfg.Agent.Authtoken = tt.config
			rt := &Runtime{
				Config:   cfg,
				Logger:   log.Discard(),
				Keychain: &stubKeychain{value: tt.keychain},
			}

			token, source := rt.ResolveAuthtoken(context.Background(), tt.flag)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

// stubKeychain is a writable keychain-priority backend.
type stubKeychain struct {
	value string
}

func (s *stubKeychain) Name() string { return "keychain" }

func (s *stubKeychain) Get(ctx context.Context, key string) (string, error) {
	if s.value == "" {
		return "", secrets.ErrSecretNotFound
	}
	return s.value, nil
}

func (s *stubKeychain) Set(ctx context.Context, key, value string) error {
	s.value = value
	return nil
}

func (s *stubKeychain) Delete(ctx context.Context, key string) error {
	if s.value == "" {
		return errors.New("not found")
	}
	s.value = ""
	return nil
}

func (s *stubKeychain) Available() bool { return true }

func (s *stubKeychain) Priority() int { return 50 }
