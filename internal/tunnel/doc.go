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
Package tunnel manages the lifecycle of tunnels on a local agent.

An Agent handle starts (or reuses) the agent process through a Supervisor,
then drives the agent API to make a tunnel live:

	a := tunnel.New(tunnel.WithLogger(logger))
	url, err := a.Connect(ctx, tunnel.Options{Proto: "http", Addr: "8080"})
	...
	err = a.Disconnect(ctx, url) // or "" for every tunnel
	err = a.Kill(ctx)

# Reconciliation

Creation is an explicit loop over (name, retry count). Tunnels without a
name get a UUID. Failures are classified by a Policy:

  - Name collisions look up the existing tunnel and adopt it. If the lookup
    fails the tunnel is renamed. Renames do not consume the retry budget
    but are bounded separately.
  - Retriable failures (agent unreachable, tunnel session still forming)
    wait a fixed interval and retry, up to MaxRetries times.
  - Everything else is returned as a *Fault wrapping the *client.APIError.

The policy decodes the agent's documented error schema. Bodies that do not
follow it are matched on their raw text.
*/
package tunnel
