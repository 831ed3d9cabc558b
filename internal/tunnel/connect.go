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
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tombee/tunnelctl/internal/client"
	"github.com/tombee/tunnelctl/internal/log"
	"github.com/tombee/tunnelctl/pkg/secrets"
)

const (
	// DefaultMaxRetries is the number of retries allowed for retriable
	// faults before the fault is returned.
	DefaultMaxRetries = 100

	// DefaultRetryInterval is the fixed wait between retries.
	DefaultRetryInterval = 200 * time.Millisecond

	// DefaultMaxRenames bounds renames after name collisions whose detail
	// lookup failed.
	DefaultMaxRenames = 16
)

// Session is a tunnel established by this process.
type Session struct {
	Name      string
	PublicURL string
	Proto     string
	Addr      string
	Adopted   bool
	Payload   map[string]any
}

// Reconciler makes one desired tunnel live on the agent. It retries while
// the agent's session is still forming and resolves name collisions by
// adopting the existing tunnel or renaming.
type Reconciler struct {
	Client        *client.Client
	Policy        *Policy
	Clock         clock.Clock
	Logger        *slog.Logger
	Masker        *secrets.Masker
	MaxRetries    int
	MaxRenames    int
	RetryInterval time.Duration

	// NewName generates tunnel names. Defaults to uuid.NewString.
	NewName func() string
}

func (r *Reconciler) withDefaults() *Reconciler {
	c := *r
	if c.Policy == nil {
		c.Policy = defaultPolicy
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = log.Discard()
	}
	if c.Masker == nil {
		c.Masker = secrets.NewMasker()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRenames <= 0 {
		c.MaxRenames = DefaultMaxRenames
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.NewName == nil {
		c.NewName = uuid.NewString
	}
	return &c
}

// Reconcile creates the tunnel described by opts and returns the live
// session. A public URL is only returned after the agent confirmed the
// tunnel through a successful create or a successful detail lookup.
func (r *Reconciler) Reconcile(ctx context.Context, opts Options) (*Session, error) {
	r = r.withDefaults()
	if r.Client == nil {
		return nil, errors.New("reconcile: no agent client")
	}

	opts = opts.WithDefaults()
	name := opts.Name
	if name == "" {
		name = r.NewName()
	}

	retryCount, renames := 0, 0
	for {
		payload := opts.Payload(name)
		logger := log.WithTunnel(r.Logger, name)

		t, err := r.Client.StartTunnel(ctx, payload)
		if err == nil {
			recordAttempt(outcomeCreated)
			logger.Debug("tunnel created", log.PublicURLKey, t.PublicURL)
			return newSession(t, payload, false), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}

		verdict := r.Policy.Classify(apiErr)
		recordFault(verdict)
		if verdict.Legacy {
			logger.Debug("agent error body does not match the documented schema, matched on raw text",
				log.StatusCodeKey, apiErr.StatusCode, "rule", verdict.Rule)
		}

		switch {
		case verdict.Kind == KindNameCollision:
			existing, derr := r.Client.TunnelDetail(ctx, name)
			if derr == nil {
				recordAttempt(outcomeAdopted)
				logger.Info("adopted existing tunnel", log.PublicURLKey, existing.PublicURL)
				return newSession(existing, payload, true), nil
			}
			if renames >= r.MaxRenames {
				return nil, r.fail(logger, payload, apiErr, verdict, retryCount+renames+1)
			}
			renames++
			recordAttempt(outcomeRenamed)
			name = r.NewName()
			logger.Debug("tunnel name is taken, retrying with a new name", "new_name", name, log.Error(derr))

		case verdict.Retriable && retryCount < r.MaxRetries:
			if retryCount == 0 {
				logger.Info("waiting for tunnel session", "rule", verdict.Rule)
			}
			recordAttempt(outcomeRetried)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-r.Clock.After(r.RetryInterval):
			}
			retryCount++

		default:
			return nil, r.fail(logger, payload, apiErr, verdict, retryCount+renames+1)
		}
	}
}

// fail logs the failure dump and builds the returned fault.
func (r *Reconciler) fail(logger *slog.Logger, payload map[string]any, apiErr *client.APIError, v Verdict, attempts int) error {
	recordAttempt(outcomeFailed)
	logger.Error("tunnel creation failed",
		log.StatusCodeKey, apiErr.StatusCode,
		"kind", v.Kind.String(),
		"rule", v.Rule,
		log.AttemptKey, attempts,
		"body", r.Masker.MaskJSON(apiErr.Raw),
		"payload", fmt.Sprint(r.Masker.MaskMap(payload)),
		"error", r.Masker.Mask(apiErr.Error()),
	)
	return &Fault{
		Kind:      v.Kind,
		Rule:      v.Rule,
		Retriable: v.Retriable,
		Attempts:  attempts,
		Err:       apiErr,
	}
}

func newSession(t *client.Tunnel, payload map[string]any, adopted bool) *Session {
	name := t.Name
	if name == "" {
		name, _ = payload["name"].(string)
	}
	return &Session{
		Name:      name,
		PublicURL: t.PublicURL,
		Proto:     t.Proto,
		Addr:      t.Config.Addr,
		Adopted:   adopted,
		Payload:   payload,
	}
}
