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
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainBackendPriority is the priority for keychain backend.
	KeychainBackendPriority = 50

	// DefaultKeychainService is the service name of tunnelctl keychain entries.
	DefaultKeychainService = "tunnelctl"

	availabilityProbe = "__tunnelctl_availability_test__"
)

// KeychainBackend stores credentials in the system keychain: Keychain
// Access on macOS, the Secret Service API on Linux and the Credential
// Manager on Windows.
type KeychainBackend struct {
	service   string
	available bool
}

// NewKeychainBackend creates a keychain backend for DefaultKeychainService.
func NewKeychainBackend() *KeychainBackend {
	return NewKeychainBackendForService(DefaultKeychainService)
}

// NewKeychainBackendForService creates a keychain backend storing entries
// under service. A locked or missing keyring service marks the backend
// unavailable.
func NewKeychainBackendForService(service string) *KeychainBackend {
	_, err := keyring.Get(service, availabilityProbe)
	return &KeychainBackend{
		service:   service,
		available: err == nil || errors.Is(err, keyring.ErrNotFound),
	}
}

// Name returns the backend identifier.
func (k *KeychainBackend) Name() string {
	return "keychain"
}

// Get retrieves a secret from the system keychain.
func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)
	}
	value, err := keyring.Get(k.service, key)
	if err != nil {
		return "", keyringError(key, err)
	}
	return value, nil
}

// Set stores a secret in the system keychain, replacing any previous value.
func (k *KeychainBackend) Set(ctx context.Context, key string, value string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)
	}
	if err := keyring.Set(k.service, key, value); err != nil {
		return keyringError(key, err)
	}
	return nil
}

// Delete removes a secret from the system keychain.
func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)
	}
	if err := keyring.Delete(k.service, key); err != nil {
		return keyringError(key, err)
	}
	return nil
}

// Available returns true if the keychain service is accessible.
func (k *KeychainBackend) Available() bool {
	return k.available
}

// Priority returns the backend priority.
func (k *KeychainBackend) Priority() int {
	return KeychainBackendPriority
}

// keyringError maps go-keyring failures onto the package errors.
func keyringError(key string, err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	if isKeychainUnavailableError(err) {
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
	}
	return fmt.Errorf("keychain error: %w", err)
}

// isKeychainUnavailableError reports errors from locked or inaccessible
// keychains on the supported platforms.
func isKeychainUnavailableError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
