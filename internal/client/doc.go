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

/*
Package client provides a typed HTTP client for the tunnel agent's local
control API.

The agent exposes its API on a loopback address that it prints at startup
(see package lifecycle). This package wraps the tunnel endpoints of that API
and nothing else: it holds no state beyond the base URL and performs no
retries.

# Basic Usage

	c, err := client.New("http://127.0.0.1:4040")
	if err != nil {
	    return err
	}

	// Create a tunnel
	t, err := c.StartTunnel(ctx, map[string]any{
	    "name":  "web",
	    "proto": "http",
	    "addr":  "8080",
	})

	// Look one up, list all, stop one
	t, err = c.TunnelDetail(ctx, "web")
	all, err := c.ListTunnels(ctx)
	err = c.StopTunnel(ctx, "web")

# Errors

Every failed call returns an *APIError. Transport failures carry a zero
StatusCode and the underlying cause in Err; non-2xx responses carry the
status code, the raw body, and the decoded agent error document when the
body matches it.

# Tracing

Each call runs inside an OpenTelemetry span named "agentapi.<operation>".
Spans go to the globally registered tracer provider unless WithTracer is
used.

# API Methods

  - StartTunnel: POST /api/tunnels
  - TunnelDetail: GET /api/tunnels/{name}
  - ListTunnels: GET /api/tunnels
  - StopTunnel: DELETE /api/tunnels/{name}
*/
package client
