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

// Package tunnels implements the commands that drive the ngrok agent:
// connect, disconnect, list, kill and authtoken.
//
// connect owns the agent for its lifetime and stops it on exit. The other
// commands locate an agent started by a running connect through the state
// file kept by the lifecycle package.
package tunnels

import (
	"context"

	"github.com/tombee/tunnelctl/internal/commands/shared"
	"github.com/tombee/tunnelctl/internal/tunnel"
)

// Hooks replaced in tests.
var (
	loadRuntime = shared.LoadRuntime

	newSupervisor = func(rt *shared.Runtime) tunnel.Supervisor {
		return rt.Supervisor()
	}

	locateAgent = func(ctx context.Context, rt *shared.Runtime) (*tunnel.Agent, error) {
		return rt.Locate(ctx)
	}
)
