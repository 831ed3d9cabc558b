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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Resolver queries a chain of SecretBackends in priority order.
type Resolver struct {
	backends []SecretBackend
}

// NewResolver creates a resolver over the available backends, sorted by
// priority (highest first).
func NewResolver(backends ...SecretBackend) *Resolver {
	available := make([]SecretBackend, 0, len(backends))
	for _, b := range backends {
		if b != nil && b.Available() {
			available = append(available, b)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Priority() > available[j].Priority()
	})

	return &Resolver{backends: available}
}

// Get returns the value of key from the first backend holding it.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	value, _, err := r.Lookup(ctx, key)
	return value, err
}

// Lookup returns the value of key and the name of the backend it came from.
// Backend failures other than ErrSecretNotFound are reported only when no
// backend holds the key.
func (r *Resolver) Lookup(ctx context.Context, key string) (string, string, error) {
	if len(r.backends) == 0 {
		return "", "", fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	var lastErr error
	for _, backend := range r.backends {
		value, err := backend.Get(ctx, key)
		if err == nil {
			return value, backend.Name(), nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return "", "", fmt.Errorf("failed to get secret %q: %w", key, lastErr)
	}
	return "", "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// Set stores a secret in the named backend, or in the first writable one
// when backendName is empty.
func (r *Resolver) Set(ctx context.Context, key, value, backendName string) error {
	for _, backend := range r.backends {
		if backendName != "" && backend.Name() != backendName {
			continue
		}
		if ro, ok := backend.(ReadOnlyBackend); ok && ro.ReadOnly() {
			if backendName != "" {
				return fmt.Errorf("%w: %s", ErrReadOnlyBackend, backendName)
			}
			continue
		}
		if err := backend.Set(ctx, key, value); err != nil {
			return fmt.Errorf("failed to set secret in %s: %w", backend.Name(), err)
		}
		return nil
	}

	if backendName != "" {
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, backendName)
	}
	return fmt.Errorf("%w: no writable backend", ErrBackendUnavailable)
}

// Backends returns the available backends in priority order.
func (r *Resolver) Backends() []SecretBackend {
	return r.backends
}
