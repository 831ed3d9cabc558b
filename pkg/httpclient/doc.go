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

// Package httpclient builds the HTTP clients used to talk to the local agent
// API.
//
// Create a client with default settings:
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
// # Retries
//
// Clients built here never retry. The tunnel reconciler owns the retry policy.
//
// # Observability
//
// All requests emit structured logs via log/slog:
//   - Debug level: successful requests
//   - Warn level: failed requests (4xx/5xx status, transport errors)
//   - Fields: method, url (sanitized), status, duration_ms, error
package httpclient
