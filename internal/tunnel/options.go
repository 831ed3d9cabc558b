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
	"maps"
	"strconv"
	"strings"

	pkgerrors "github.com/tombee/tunnelctl/pkg/errors"
)

// Options is the configuration accepted by Connect. It mixes process-level
// settings for the agent with the fields of the tunnel to create.
type Options struct {
	// Process-level settings. None of these are sent to the agent API.

	// Authtoken is the account credential. When set it is written to the
	// agent config before the process starts.
	Authtoken string
	// ConfigPath is an agent config file passed to the process.
	ConfigPath string
	// Port is the local port to forward to when Addr is empty.
	Port int
	// Region selects the agent's ingress region.
	Region string
	// WebAddr is the bind address for the agent API ("host:port").
	WebAddr string
	// Host is the local host to forward to when Addr and Port are empty.
	Host string
	// HTTPAuth is basic auth ("user:pass") for the tunnel. Copied to Auth.
	HTTPAuth string
	// BinPath is the agent binary.
	BinPath string

	// Tunnel fields.

	Name       string
	Proto      string
	Addr       string
	Subdomain  string
	Hostname   string
	HostHeader string
	Auth       string
	Inspect    *bool
	Schemes    []string
	Metadata   string

	// Extra holds any other tunnel fields. They are forwarded verbatim,
	// after process-level keys are removed.
	Extra map[string]any
}

// processFields are keys that configure the agent process and are rejected
// by the tunnel creation endpoint.
var processFields = []string{
	"authtoken",
	"configPath",
	"config_path",
	"port",
	"region",
	"web_addr",
	"host",
	"httpauth",
	"binPath",
	"bin_path",
	"onLogEvent",
	"onStatusChange",
}

// IsProcessField reports whether key configures the agent process rather
// than a tunnel.
func IsProcessField(key string) bool {
	for _, f := range processFields {
		if key == f {
			return true
		}
	}
	return false
}

// WithDefaults returns a copy of o with defaults applied: protocol "http",
// Addr taken from Port, then Host, then "80", and HTTPAuth copied to Auth.
func (o Options) WithDefaults() Options {
	o.Name = o.fromExtra("name", o.Name)
	o.Proto = o.fromExtra("proto", o.Proto)
	o.Addr = o.fromExtra("addr", o.Addr)

	if o.Proto == "" {
		o.Proto = "http"
	}
	if o.Addr == "" {
		switch {
		case o.Port != 0:
			o.Addr = strconv.Itoa(o.Port)
		case o.Host != "":
			o.Addr = o.Host
		default:
			o.Addr = "80"
		}
	}
	if o.HTTPAuth != "" && o.Auth == "" {
		o.Auth = o.HTTPAuth
	}
	return o
}

// fromExtra returns current, or the value of key in Extra when current is
// empty. Numeric addresses are accepted as well as strings.
func (o Options) fromExtra(key, current string) string {
	if current != "" {
		return current
	}
	switch v := o.Extra[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return current
}

// Validate checks options that the agent cannot be started with.
func (o Options) Validate() error {
	if strings.EqualFold(o.WebAddr, "false") {
		return &pkgerrors.ValidationError{
			Field:   "web_addr",
			Message: "disabling the agent API is not supported",
			Hint:    "Remove web_addr or set it to a host:port such as 127.0.0.1:4040",
		}
	}
	if o.WebAddr != "" && !strings.Contains(o.WebAddr, ":") {
		return &pkgerrors.ValidationError{
			Field:   "web_addr",
			Message: "must be host:port, got " + strconv.Quote(o.WebAddr),
		}
	}
	if o.Port < 0 || o.Port > 65535 {
		return &pkgerrors.ValidationError{
			Field:   "port",
			Message: "must be between 1 and 65535, got " + strconv.Itoa(o.Port),
		}
	}
	switch o.Proto {
	case "", "http", "tcp", "tls":
	default:
		return &pkgerrors.ValidationError{
			Field:   "proto",
			Message: "unsupported protocol " + strconv.Quote(o.Proto),
			Hint:    "Use one of: http, tcp, tls",
		}
	}
	return nil
}

// Payload builds the tunnel creation document for the given name. Only
// tunnel fields are included; process-level keys are dropped even when they
// arrive through Extra.
func (o Options) Payload(name string) map[string]any {
	payload := make(map[string]any, len(o.Extra)+8)
	maps.Copy(payload, o.Extra)
	for _, f := range processFields {
		delete(payload, f)
	}

	setString := func(key, value string) {
		if value != "" {
			payload[key] = value
		}
	}
	setString("proto", o.Proto)
	setString("addr", o.Addr)
	setString("subdomain", o.Subdomain)
	setString("hostname", o.Hostname)
	setString("host_header", o.HostHeader)
	setString("auth", o.Auth)
	setString("metadata", o.Metadata)
	if o.Inspect != nil {
		payload["inspect"] = *o.Inspect
	}
	if len(o.Schemes) > 0 {
		payload["schemes"] = o.Schemes
	}

	payload["name"] = name
	return payload
}
