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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/tunnelctl/internal/client"
	"github.com/tombee/tunnelctl/internal/commands/shared"
	"github.com/tombee/tunnelctl/internal/config"
	"github.com/tombee/tunnelctl/internal/lifecycle"
	"github.com/tombee/tunnelctl/internal/log"
	"github.com/tombee/tunnelctl/internal/secrets"
	"github.com/tombee/tunnelctl/internal/tunnel"
)

// fakeAgentAPI serves the agent's tunnel endpoints from memory.
type fakeAgentAPI struct {
	mu      sync.Mutex
	tunnels map[string]client.Tunnel
	stops   []string

	// createStatus, when set, fails every creation with this status.
	createStatus int

	srv *httptest.Server
}

func newFakeAgentAPI(t *testing.T) *fakeAgentAPI {
	t.Helper()
	api := &fakeAgentAPI{tunnels: make(map[string]client.Tunnel)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tunnels", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		if api.createStatus != 0 {
			w.WriteHeader(api.createStatus)
			w.Write([]byte(`{"error_code":105,"status_code":401,"msg":"authentication failed"}`))
			return
		}
		name, _ := payload["name"].(string)
		proto, _ := payload["proto"].(string)
		addr, _ := payload["addr"].(string)
		tun := client.Tunnel{
			Name:      name,
			PublicURL: "https://" + name + ".ngrok.test",
			Proto:     "https",
			Config:    client.TunnelConfig{Addr: "http://localhost:" + addr},
		}
		if proto != "http" {
			tun.Proto = proto
			tun.PublicURL = proto + "://" + name + ".ngrok.test:10000"
		}
		api.tunnels[name] = tun
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(tun)
	})
	mux.HandleFunc("GET /api/tunnels", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		list := make([]client.Tunnel, 0, len(api.tunnels))
		for _, tun := range api.tunnels {
			list = append(list, tun)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		json.NewEncoder(w).Encode(map[string]any{"tunnels": list, "uri": "/api/tunnels"})
	})
	mux.HandleFunc("GET /api/tunnels/{name}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		tun, ok := api.tunnels[r.PathValue("name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(tun)
	})
	mux.HandleFunc("DELETE /api/tunnels/{name}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		name := r.PathValue("name")
		api.stops = append(api.stops, name)
		delete(api.tunnels, name)
		w.WriteHeader(http.StatusNoContent)
	})

	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAgentAPI) URL() string { return a.srv.URL }

func (a *fakeAgentAPI) addTunnel(name, publicURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tunnels[name] = client.Tunnel{
		Name:      name,
		PublicURL: publicURL,
		Proto:     "https",
		Config:    client.TunnelConfig{Addr: "http://localhost:80"},
	}
}

func (a *fakeAgentAPI) stopped() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]string(nil), a.stops...)
	sort.Strings(out)
	return out
}

// fakeSupervisor hands out the fake API instead of running an agent.
type fakeSupervisor struct {
	mu         sync.Mutex
	apiURL     string
	acquireErr error
	acquired   []lifecycle.ProcessConfig
	tokens     []string
	terminated int
}

func (s *fakeSupervisor) Acquire(ctx context.Context, cfg lifecycle.ProcessConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired = append(s.acquired, cfg)
	if s.acquireErr != nil {
		return "", s.acquireErr
	}
	return s.apiURL, nil
}

func (s *fakeSupervisor) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated++
	return nil
}

func (s *fakeSupervisor) SetAuthtoken(ctx context.Context, token, configPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *fakeSupervisor) Version(ctx context.Context) (string, error) {
	return "3.5.0", nil
}

func (s *fakeSupervisor) snapshot() (acquired []lifecycle.ProcessConfig, tokens []string, terminated int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(acquired, s.acquired...), append(tokens, s.tokens...), s.terminated
}

// newTestRuntime returns a runtime with defaults, a silent logger and an
// empty keychain. Authtoken environment variables are cleared.
func newTestRuntime(t *testing.T) *shared.Runtime {
	t.Helper()
	t.Setenv("NGROK_AUTHTOKEN", "")
	t.Setenv("TUNNELCTL_SECRET_AUTHTOKEN", "")
	return &shared.Runtime{
		Config:   config.Default(),
		Logger:   log.Discard(),
		Keychain: secrets.NewStaticBackend("keychain", nil),
	}
}

// stubHooks points the command hooks at rt and sup. Locating an agent
// fails with ErrAgentNotRunning while sup has no API URL.
func stubHooks(t *testing.T, rt *shared.Runtime, sup *fakeSupervisor) {
	t.Helper()
	oldLoad, oldSup, oldLocate := loadRuntime, newSupervisor, locateAgent
	t.Cleanup(func() {
		loadRuntime, newSupervisor, locateAgent = oldLoad, oldSup, oldLocate
		shared.ResetFlagsForTest()
	})

	loadRuntime = func() (*shared.Runtime, error) { return rt, nil }
	newSupervisor = func(*shared.Runtime) tunnel.Supervisor { return sup }
	locateAgent = func(ctx context.Context, rt *shared.Runtime) (*tunnel.Agent, error) {
		if sup.apiURL == "" {
			return nil, shared.NewAgentNotRunningError(lifecycle.ErrAgentNotRunning)
		}
		agent := rt.NewAgent(sup)
		if err := agent.Attach(sup.apiURL); err != nil {
			return nil, err
		}
		return agent, nil
	}
}

// newTestRoot wraps sub in a root command carrying the global flags.
func newTestRoot(sub *cobra.Command, stdout, stderr *syncBuffer) *cobra.Command {
	root := &cobra.Command{Use: "tunnelctl", SilenceUsage: true, SilenceErrors: true}
	verbose, quiet, jsonOut, cfg := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Verbose output")
	root.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Quiet output")
	root.PersistentFlags().BoolVar(jsonOut, "json", false, "JSON output")
	root.PersistentFlags().StringVar(cfg, "config", "", "Config file")
	root.AddCommand(sub)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
