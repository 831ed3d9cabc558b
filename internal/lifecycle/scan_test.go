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

package lifecycle

import "testing"

func TestDiscoverAddr(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{
			name:   "ipv4",
			line:   `t=2025-01-01T10:00:00+0000 lvl=info msg="starting web service" obj=web addr=127.0.0.1:4040 allow_hosts=[]`,
			want:   "http://127.0.0.1:4040",
			wantOK: true,
		},
		{
			name:   "ipv6",
			line:   `lvl=info msg="starting web service" obj=web addr=[::1]:4041`,
			want:   "http://[::1]:4041",
			wantOK: true,
		},
		{
			name: "other line with addr",
			line: `lvl=info msg="tunnel session started" obj=tunnels.session addr=connect.ngrok-agent.com:443`,
		},
		{
			name: "no addr",
			line: `lvl=info msg="starting web service" obj=web`,
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DiscoverAddr(tt.line)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DiscoverAddr() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLineError(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{
			name:   "error with quoted err",
			line:   `t=2025-01-01T10:00:00+0000 lvl=eror msg="failed to reconnect session" obj=tunnels.session err="authentication failed: Your authtoken is invalid"`,
			want:   "authentication failed: Your authtoken is invalid",
			wantOK: true,
		},
		{
			name:   "crit with bare err",
			line:   `lvl=crit msg="command failed" err=bind:address_in_use`,
			want:   "bind:address_in_use",
			wantOK: true,
		},
		{
			name:   "error without err uses msg",
			line:   `lvl=eror msg="session closed unexpectedly"`,
			want:   "session closed unexpectedly",
			wantOK: true,
		},
		{
			name:   "escaped quotes",
			line:   `lvl=eror err="config \"web\" invalid"`,
			want:   `config "web" invalid`,
			wantOK: true,
		},
		{
			name: "info line",
			line: `lvl=info msg="no configuration paths supplied"`,
		},
		{
			name: "warn line",
			line: `lvl=warn msg="failed to check for update" err="timeout"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LineError(tt.line)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("LineError() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
