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

package tunnels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tunnelctl/internal/commands/shared"
	"github.com/tombee/tunnelctl/internal/log"
	"github.com/tombee/tunnelctl/internal/secrets"
	pkgerrors "github.com/tombee/tunnelctl/pkg/errors"
)

// runUntilOutput runs the command in the background, waits for want on
// stdout, then cancels it and returns its error.
func runUntilOutput(t *testing.T, root interface {
	ExecuteContext(context.Context) error
}, stdout *syncBuffer, want string) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), want)
	}, 5*time.Second, 10*time.Millisecond, "stdout: %s", stdout.String())
	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return after cancel")
		return nil
	}
}

func TestConnect(t *testing.T) {
	api := newFakeAgentAPI(t)
	sup := &fakeSupervisor{apiURL: api.URL()}
	stubHooks(t, newTestRuntime(t), sup)

	var stdout, stderr syncBuffer
	root := newTestRoot(NewConnectCommand(), &stdout, &stderr)
	root.SetArgs([]string{"connect", "http", "8080", "--name", "web", "--authtoken", "tok_abcdefghijkl", "--region", "eu"})

	err := runUntilOutput(t, root, &stdout, "https://web.ngrok.test")
	require.NoError(t, err)

	assert.Equal(t, "https://web.ngrok.test\n", stdout.String())
	assert.Contains(t, stderr.String(), "Starting tunnel")
	assert.Contains(t, stderr.String(), "Tunnel web established")
	assert.NotContains(t, stderr.String(), "tok_abcdefghijkl")

	acquired, tokens, terminated := sup.snapshot()
	require.Len(t, acquired, 1)
	assert.Equal(t, "tok_abcdefghijkl", acquired[0].Authtoken)
	assert.Equal(t, "eu", acquired[0].Region)
	assert.Equal(t, []string{"tok_abcdefghijkl"}, tokens)
	assert.Equal(t, 1, terminated)
	assert.Equal(t, []string{"web"}, api.stopped())
}

func TestConnect_JSON(t *testing.T) {
	api := newFakeAgentAPI(t)
	sup := &fakeSupervisor{apiURL: api.URL()}
	stubHooks(t, newTestRuntime(t), sup)

	var stdout, stderr syncBuffer
	root := newTestRoot(NewConnectCommand(), &stdout, &stderr)
	root.SetArgs([]string{"--json", "connect", "tcp", "22", "--name", "ssh"})

	require.NoError(t, runUntilOutput(t, root, &stdout, "public_url"))

	var got struct {
		Success   bool   `json:"success"`
		Command   string `json:"command"`
		Name      string `json:"name"`
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		APIURL    string `json:"api_url"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "connect", got.Command)
	assert.Equal(t, "ssh", got.Name)
	assert.Equal(t, "tcp://ssh.ngrok.test:10000", got.PublicURL)
	assert.Equal(t, "tcp", got.Proto)
	assert.Equal(t, api.URL(), got.APIURL)
}

func TestConnect_AuthtokenFromKeychain(t *testing.T) {
	api := newFakeAgentAPI(t)
	sup := &fakeSupervisor{apiURL: api.URL()}
	rt := newTestRuntime(t)
	rt.Keychain = secrets.NewStaticBackend("keychain", map[string]string{secrets.AuthtokenKey: "from-keychain-123"})
	stubHooks(t, rt, sup)

	var stdout, stderr syncBuffer
	root := newTestRoot(NewConnectCommand(), &stdout, &stderr)
	root.SetArgs([]string{"connect", "--name", "web"})

	require.NoError(t, runUntilOutput(t, root, &stdout, "https://web.ngrok.test"))

	_, tokens, _ := sup.snapshot()
	assert.Equal(t, []string{"from-keychain-123"}, tokens)
}

func TestConnect_Failures(t *testing.T) {
	t.Run("invalid protocol", func(t *testing.T) {
		api := newFakeAgentAPI(t)
		sup := &fakeSupervisor{apiURL: api.URL()}
		stubHooks(t, newTestRuntime(t), sup)

		var stdout, stderr syncBuffer
		root := newTestRoot(NewConnectCommand(), &stdout, &stderr)
		root.SetArgs([]string{"connect", "ftp", "21"})

		err := root.Execute()
		var validationErr *pkgerrors.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCode(err))

		acquired, _, _ := sup.snapshot()
		assert.Empty(t, acquired)
	})

	t.Run("agent rejects tunnel", func(t *testing.T) {
		api := newFakeAgentAPI(t)
		api.createStatus = http.StatusUnauthorized
		sup := &fakeSupervisor{apiURL: api.URL()}
		stubHooks(t, newTestRuntime(t), sup)

		var stdout, stderr syncBuffer
		root := newTestRoot(NewConnectCommand(), &stdout, &stderr)
		root.SetArgs([]string{"connect", "http", "3000"})

		err := root.Execute()
		require.Error(t, err)
		assert.Equal(t, shared.ExitAgentAPIError, shared.ExitCode(err))
		assert.Empty(t, stdout.String())

		_, _, terminated := sup.snapshot()
		assert.Equal(t, 1, terminated, "agent stopped after failure")
	})

	t.Run("agent fails to start", func(t *testing.T) {
		sup := &fakeSupervisor{acquireErr: errors.New("exec: \"ngrok\": executable file not found in $PATH")}
		stubHooks(t, newTestRuntime(t), sup)

		var stdout, stderr syncBuffer
		root := newTestRoot(NewConnectCommand(), &stdout, &stderr)
		root.SetArgs([]string{"connect"})

		err := root.Execute()
		require.Error(t, err)
		assert.Equal(t, shared.ExitTunnelFailed, shared.ExitCode(err))

		_, _, terminated := sup.snapshot()
		assert.Zero(t, terminated)
	})
}

func TestConnectOptions(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Config.Agent.Region = "us"
	rt.Config.Agent.ConfigPath = "/etc/ngrok.yml"
	rt.Config.Agent.WebAddr = "127.0.0.1:4041"

	t.Run("config fills unset flags", func(t *testing.T) {
		opts := connectOptions(rt, []string{"tls", "443"}, connectFlags{name: "api"})
		assert.Equal(t, "tls", opts.Proto)
		assert.Equal(t, "443", opts.Addr)
		assert.Equal(t, "api", opts.Name)
		assert.Equal(t, "us", opts.Region)
		assert.Equal(t, "/etc/ngrok.yml", opts.ConfigPath)
		assert.Equal(t, "127.0.0.1:4041", opts.WebAddr)
		assert.Equal(t, "ngrok", opts.BinPath)
	})

	t.Run("flags win", func(t *testing.T) {
		opts := connectOptions(rt, nil, connectFlags{region: "eu", agentConfig: "/tmp/a.yml", webAddr: "127.0.0.1:5000"})
		assert.Empty(t, opts.Proto)
		assert.Empty(t, opts.Addr)
		assert.Equal(t, "eu", opts.Region)
		assert.Equal(t, "/tmp/a.yml", opts.ConfigPath)
		assert.Equal(t, "127.0.0.1:5000", opts.WebAddr)
	})
}

func TestServeMetrics(t *testing.T) {
	srv, err := serveMetrics("127.0.0.1:0", log.Discard())
	require.NoError(t, err)
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
