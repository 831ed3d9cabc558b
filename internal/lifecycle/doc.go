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
Package lifecycle supervises the ngrok agent process.

An AgentProcess starts the agent without tunnels, discovers the address of
its local API from the agent's log output, and waits for the API to answer
before handing the address to callers:

	proc := lifecycle.NewAgentProcess(lifecycle.AgentConfig{Logger: logger})
	apiURL, err := proc.Acquire(ctx, lifecycle.ProcessConfig{
	    Authtoken: token,
	    Region:    "eu",
	})
	if err != nil {
	    // *StartError, *errors.TimeoutError or a context error
	}
	defer proc.Terminate(context.Background())

# Startup

The agent is run as

	ngrok start --none --log=stdout --log-format=logfmt [--authtoken=...] [--region=...] [--config=...]

Settings without a command line flag, such as the API address, are written
to an overlay config file that is appended to the agent's config list.
Startup succeeds on the first "starting web service" line carrying an addr
field. It fails on the first lvl=eror or lvl=crit line, on any stderr output,
when the agent exits, or when the start timeout elapses.

# State File

A started agent is recorded in a YAML state file guarded by flock and O_EXCL
creation. Other invocations use Locate to find it, after verifying the
recorded PID still runs the agent binary:

	apiURL, err := proc.Locate(ctx)
	if errors.Is(err, lifecycle.ErrAgentNotRunning) {
	    // nothing to attach to
	}

# Journal

Start, stop and stale state events are appended as JSON lines to a journal
in the state directory. Authtoken values are masked.
*/
package lifecycle
