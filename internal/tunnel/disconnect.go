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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tombee/tunnelctl/internal/client"
	"github.com/tombee/tunnelctl/internal/log"
	pkgerrors "github.com/tombee/tunnelctl/pkg/errors"
)

// Teardown stops tunnels on the agent by public URL.
type Teardown struct {
	Client *client.Client
	Logger *slog.Logger

	// OnStopped is called with the public URL of every stopped tunnel.
	// It may be called from several goroutines at once.
	OnStopped func(publicURL string)
}

// Stop stops the tunnel with the given public URL. An empty URL stops every
// tunnel the agent reports: all stops run concurrently, each is attempted
// regardless of the others, and failures are joined into one error.
//
// A URL that is not in the agent's listing yields a *errors.NotFoundError
// and no stop call.
func (t *Teardown) Stop(ctx context.Context, publicURL string) error {
	if t.Client == nil {
		return nil
	}
	logger := t.Logger
	if logger == nil {
		logger = log.Discard()
	}

	tunnels, err := t.Client.ListTunnels(ctx)
	if err != nil {
		return fmt.Errorf("list tunnels: %w", err)
	}

	if publicURL != "" {
		return t.stopOne(ctx, logger, tunnels, publicURL)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, tun := range tunnels {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := t.stopOne(ctx, logger, tunnels, url); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(tun.PublicURL)
	}
	wg.Wait()

	if len(errs) > 0 {
		logger.Warn("some tunnels failed to stop", "failed", len(errs), "total", len(tunnels))
	}
	return errors.Join(errs...)
}

func (t *Teardown) stopOne(ctx context.Context, logger *slog.Logger, tunnels []client.Tunnel, publicURL string) error {
	var found *client.Tunnel
	for i := range tunnels {
		if tunnels[i].PublicURL == publicURL {
			found = &tunnels[i]
			break
		}
	}
	if found == nil {
		recordTeardown("not_found")
		return &pkgerrors.NotFoundError{Resource: "tunnel", ID: publicURL}
	}

	if err := t.Client.StopTunnel(ctx, found.Name); err != nil {
		recordTeardown("failed")
		return fmt.Errorf("stop tunnel %s: %w", found.Name, err)
	}

	recordTeardown("stopped")
	logger.Info("tunnel stopped", log.TunnelKey, found.Name, log.PublicURLKey, publicURL)
	if t.OnStopped != nil {
		t.OnStopped(publicURL)
	}
	return nil
}
