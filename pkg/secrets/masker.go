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

// Package secrets masks credentials before they reach logs or terminals.
package secrets

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Masker masks secret values in strings and structured data.
type Masker struct {
	// patterns are lower-case substrings that mark a map key as sensitive
	patterns []string

	mu sync.RWMutex

	// secrets is a map of known secret values to mask
	secrets map[string]bool
}

// NewMasker creates a new secret masker with default key patterns.
func NewMasker() *Masker {
	return &Masker{
		patterns: []string{
			"authtoken",
			"token",
			"secret",
			"password",
			"auth",
			"credential",
		},
		secrets: make(map[string]bool),
	}
}

// AddSecret registers a value to be masked.
func (m *Masker) AddSecret(value string) {
	if value == "" {
		return
	}
	m.mu.Lock()
	m.secrets[value] = true
	m.mu.Unlock()
}

// isSecretKey checks if a map key matches a sensitive pattern.
func (m *Masker) isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range m.patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Mask replaces all known secrets in a string with "***".
func (m *Masker) Mask(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := s
	for secret := range m.secrets {
		if strings.Contains(result, secret) {
			result = strings.ReplaceAll(result, secret, "***")
		}
	}
	return result
}

// MaskMap recursively masks secrets in a map structure.
// Values under sensitive keys are replaced entirely.
// Returns a new map; the input is not modified.
func (m *Masker) MaskMap(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	for k, v := range data {
		if m.isSecretKey(k) && v != nil {
			result[k] = "***"
			continue
		}
		result[k] = m.maskValue(v)
	}
	return result
}

// maskValue masks secrets in any value type.
func (m *Masker) maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return m.Mask(val)
	case map[string]any:
		return m.MaskMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = m.maskValue(item)
		}
		return result
	case []string:
		result := make([]string, len(val))
		for i, item := range val {
			result[i] = m.Mask(item)
		}
		return result
	case json.Number, bool, int, int64, float64, nil:
		return val
	default:
		return m.Mask(fmt.Sprintf("%v", val))
	}
}

// MaskJSON masks secrets in a JSON document.
// Returns the masked JSON or the string-masked input if parsing fails.
func (m *Masker) MaskJSON(raw []byte) string {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return m.Mask(string(raw))
	}

	masked := m.maskValue(data)
	result, err := json.Marshal(masked)
	if err != nil {
		return m.Mask(string(raw))
	}

	return string(result)
}

// MaskToken renders a credential for diagnostics, keeping only its first and
// last four characters. Returns "none" for an empty token and "[REDACTED]"
// for tokens too short to abbreviate.
func MaskToken(token string) string {
	if token == "" {
		return "none"
	}
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
