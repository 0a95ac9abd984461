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
Package cli provides the root command for relay.

The root command owns the persistent flags and error handling. Individual
commands live in the internal/commands subpackages.

# Command Tree

	relay
	├── serve       Run the HTTP chat API
	├── chat        Chat with the bot in the terminal
	├── tools       List tools from every configured server
	├── call        Call a tool directly
	├── servers     Show tool server connection status
	├── models      List models, or pick one for the console chat
	├── secrets     Store the LLM API key
	├── version     Show version
	└── help        Show help

# Global Flags

	--config   Path to config file (default: ~/.config/relay/config.yaml)
	--verbose  Debug logging
	--json     Machine-readable output
*/
package cli
