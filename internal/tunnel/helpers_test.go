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
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/tombee/tunnelctl/internal/client"
)

// fakeAgentAPI is an in-memory agent API. Handlers may be replaced per test.
type fakeAgentAPI struct {
	t      *testing.T
	server *httptest.Server

	mu      sync.Mutex
	creates []map[string]any
	details []string
	stops   []string
	tunnels []client.Tunnel

	// onCreate answers POST /api/tunnels. The default creates the tunnel.
	onCreate func(n int, payload map[string]any) (int, string)
	// onDetail answers GET /api/tunnels/{name}. The default looks the name
	// up in tunnels.
	onDetail func(name string) (int, string)
	// onStop answers DELETE /api/tunnels/{name}. The default removes it.
	onStop func(name string) int
}

func newFakeAgentAPI(t *testing.T) *fakeAgentAPI {
	t.Helper()
	f := &fakeAgentAPI{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tunnels", f.handleCreate)
	mux.HandleFunc("GET /api/tunnels", f.handleList)
	mux.HandleFunc("GET /api/tunnels/{name}", f.handleDetail)
	mux.HandleFunc("DELETE /api/tunnels/{name}", f.handleStop)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAgentAPI) client() *client.Client {
	f.t.Helper()
	c, err := client.New(f.server.URL)
	if err != nil {
		f.t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func (f *fakeAgentAPI) addTunnel(name, publicURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tunnels = append(f.tunnels, client.Tunnel{
		Name:      name,
		PublicURL: publicURL,
		Proto:     "https",
		Config:    client.TunnelConfig{Addr: "http://localhost:80"},
	})
}

func (f *fakeAgentAPI) createCalls() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.creates...)
}

func (f *fakeAgentAPI) stopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

func (f *fakeAgentAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.creates = append(f.creates, payload)
	n := len(f.creates)
	onCreate := f.onCreate
	f.mu.Unlock()

	if onCreate != nil {
		status, body := onCreate(n, payload)
		if status >= 300 {
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
	}

	name, _ := payload["name"].(string)
	addr, _ := payload["addr"].(string)
	tun := client.Tunnel{
		Name:      name,
		PublicURL: "https://" + name + ".ngrok.io",
		Proto:     "https",
		Config:    client.TunnelConfig{Addr: "http://localhost:" + addr},
	}
	f.mu.Lock()
	f.tunnels = append(f.tunnels, tun)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tun)
}

func (f *fakeAgentAPI) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"tunnels": f.tunnels, "uri": "/api/tunnels"})
}

func (f *fakeAgentAPI) handleDetail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f.mu.Lock()
	f.details = append(f.details, name)
	onDetail := f.onDetail
	f.mu.Unlock()

	if onDetail != nil {
		status, body := onDetail(name)
		w.WriteHeader(status)
		w.Write([]byte(body))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tun := range f.tunnels {
		if tun.Name == name {
			json.NewEncoder(w).Encode(tun)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `{"error_code":100,"status_code":404,"msg":"tunnel not found","details":{"err":"tunnel %q not found"}}`, name)
}

func (f *fakeAgentAPI) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f.mu.Lock()
	f.stops = append(f.stops, name)
	onStop := f.onStop
	f.mu.Unlock()

	if onStop != nil {
		if status := onStop(name); status >= 300 {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"status_code":%d,"msg":"failed to stop tunnel"}`, status)
			return
		}
	}

	f.mu.Lock()
	for i, tun := range f.tunnels {
		if tun.Name == name {
			f.tunnels = append(f.tunnels[:i], f.tunnels[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

const (
	notReadyBody  = `{"error_code":103,"status_code":502,"msg":"failed to start tunnel","details":{"err":"tunnel session not ready yet"}}`
	collisionBody = `{"error_code":102,"status_code":400,"msg":"invalid tunnel configuration","details":{"err":"tunnel \"web\" already exists"}}`
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
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

func (b *syncBuffer) count(msg string) int {
	return strings.Count(b.String(), `"msg":"`+msg+`"`)
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// sequentialNames returns a name generator yielding name-1, name-2, ...
func sequentialNames() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("name-%d", n)
	}
}

type reconcileResult struct {
	session *Session
	err     error
}

// reconcileAsync calls run and advances clk by interval whenever a retry
// wait is pending, until run returns. It reports the number of waits.
func reconcileAsync(t *testing.T, clk *testclock.Clock, interval time.Duration, run func() (*Session, error)) (reconcileResult, int) {
	t.Helper()
	done := make(chan reconcileResult, 1)
	go func() {
		s, err := run()
		done <- reconcileResult{s, err}
	}()

	waits := 0
	deadline := time.After(30 * time.Second)
	for {
		select {
		case res := <-done:
			return res, waits
		case <-deadline:
			t.Fatal("reconcile did not finish")
		default:
		}
		if clk.WaitAdvance(interval, 10*time.Millisecond, 1) == nil {
			waits++
		}
	}
}
