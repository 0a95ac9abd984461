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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for relay
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "relay - a chat bot bridging an LLM API and MCP tool servers",
		Long: `relay answers chat messages with an OpenAI-compatible model and lets the
model call tools exposed by MCP servers.

Run 'relay serve' to start the HTTP chat API.
Run 'relay chat' to talk to the bot from this terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true, // HandleExitError reports errors
	}

	cmd.AddGroup(
		&cobra.Group{ID: shared.GroupChat, Title: "Chat:"},
		&cobra.Group{ID: shared.GroupTools, Title: "Tools:"},
		&cobra.Group{ID: shared.GroupSetup, Title: "Setup:"},
	)

	verbose, json, config := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/relay/config.yaml)")

	cmd.SetHelpCommand(NewHelpCommand(cmd))
	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
