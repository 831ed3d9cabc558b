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

package client

// Tunnel is a tunnel as reported by the agent API.
type Tunnel struct {
	Name      string         `json:"name"`
	ID        string         `json:"ID,omitempty"`
	URI       string         `json:"uri"`
	PublicURL string         `json:"public_url"`
	Proto     string         `json:"proto"`
	Config    TunnelConfig   `json:"config"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// TunnelConfig is the forwarding configuration of a tunnel.
type TunnelConfig struct {
	Addr    string `json:"addr"`
	Inspect bool   `json:"inspect"`
}

// tunnelList is the response from GET /api/tunnels.
type tunnelList struct {
	Tunnels []Tunnel `json:"tunnels"`
	URI     string   `json:"uri"`
}

// ErrorBody is the error document returned by the agent API on failure.
//
//	{"error_code":102,"status_code":400,"msg":"invalid tunnel configuration",
//	 "details":{"err":"tunnel \"web\" already exists"}}
type ErrorBody struct {
	ErrorCode  int          `json:"error_code,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	Msg        string       `json:"msg,omitempty"`
	Details    ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries the agent's detail string for a failed request.
type ErrorDetails struct {
	Err string `json:"err,omitempty"`
}

// Documented reports whether the body carries the fields of the agent's
// documented error schema. Bodies from other sources (proxies, panics,
// older agents) decode to an undocumented zero value.
func (b *ErrorBody) Documented() bool {
	return b != nil && (b.StatusCode != 0 || b.ErrorCode != 0)
}
