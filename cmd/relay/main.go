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

package main

import (
	"github.com/tombee/relay/internal/cli"
	"github.com/tombee/relay/internal/commands/chat"
	"github.com/tombee/relay/internal/commands/completion"
	"github.com/tombee/relay/internal/commands/config"
	"github.com/tombee/relay/internal/commands/model"
	"github.com/tombee/relay/internal/commands/secrets"
	"github.com/tombee/relay/internal/commands/serve"
	"github.com/tombee/relay/internal/commands/tools"
	versioncmd "github.com/tombee/relay/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Chat
	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(chat.NewCommand())

	// Tools
	rootCmd.AddCommand(tools.NewToolsCommand())
	rootCmd.AddCommand(tools.NewCallCommand())
	rootCmd.AddCommand(tools.NewServersCommand())

	// Setup
	rootCmd.AddCommand(model.NewCommand())
	rootCmd.AddCommand(config.NewConfigCommand())
	rootCmd.AddCommand(secrets.NewCommand())
	rootCmd.AddCommand(completion.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
