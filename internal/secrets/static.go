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
	"fmt"
)

// ConfigBackendPriority sits between the environment and the keychain.
const ConfigBackendPriority = 75

// StaticBackend serves fixed values, such as credentials read from the
// config file. It is read-only.
type StaticBackend struct {
	name   string
	values map[string]string
}

// NewStaticBackend creates a backend named name serving values. Empty
// values are treated as absent.
func NewStaticBackend(name string, values map[string]string) *StaticBackend {
	return &StaticBackend{name: name, values: values}
}

// Name returns the backend identifier.
func (s *StaticBackend) Name() string { return s.name }

// Get returns the value for key.
func (s *StaticBackend) Get(ctx context.Context, key string) (string, error) {
	if v := s.values[key]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s not set in %s", ErrSecretNotFound, key, s.name)
}

// Set returns ErrReadOnlyBackend.
func (s *StaticBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend.
func (s *StaticBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// Available returns true.
func (s *StaticBackend) Available() bool { return true }

// Priority returns ConfigBackendPriority.
func (s *StaticBackend) Priority() int { return ConfigBackendPriority }

// ReadOnly returns true.
func (s *StaticBackend) ReadOnly() bool { return true }
