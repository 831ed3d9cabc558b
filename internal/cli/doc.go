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
Package cli provides the root command and shared configuration for tunnelctl.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	tunnelctl
	├── connect       Start the agent and open a tunnel
	├── disconnect    Stop one or all tunnels on the running agent
	├── list          List tunnels on the running agent
	├── kill          Stop the running agent
	├── authtoken     Save the account authtoken
	├── version       Show version
	└── help          Show help

# Global Flags

	--config   Path to config file
	--verbose  Enable verbose output
	--quiet    Suppress non-error output
	--json     Output in JSON format

# Exit Codes

	0  Success
	1  Tunnel operation failed
	2  Invalid flags or configuration
	3  No running agent
	4  Agent API error
*/
package cli
