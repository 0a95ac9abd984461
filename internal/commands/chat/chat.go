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

// Package chat implements `relay chat`, a console front end for the bot.
package chat

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/log"
)

// openApp is replaced in tests.
var openApp = func(ctx context.Context) (*shared.App, error) {
	return shared.OpenApp(ctx, shared.AppOptions{LLM: true})
}

// NewCommand creates the chat command.
func NewCommand() *cobra.Command {
	var (
		chatID  string
		message string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot in the terminal",
		Long: `Start an interactive chat. Lines starting with / are bot commands
(/help lists them). History and settings are kept per chat ID in the
configured storage. Type /quit or press Ctrl-D to leave.

Examples:
  relay chat
  relay chat --chat-id work
  relay chat -m "What's the weather in Oslo?"`,
		GroupID: shared.GroupChat,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(context.WithoutCancel(ctx)); err != nil {
					app.Logger.Warn("shutdown incomplete", log.Error(err))
				}
			}()

			interactive := message == "" && shared.IsTerminal(os.Stdin)
			repl := &REPL{
				Chat:        app.Processor,
				ChatID:      chatID,
				In:          cmd.InOrStdin(),
				Out:         cmd.OutOrStdout(),
				Interactive: interactive,
				Spinner:     shared.NewSpinner(cmd.ErrOrStderr(), interactive && shared.IsTerminal(os.Stderr)),
				Logger:      app.Logger,
			}
			if message != "" {
				return repl.Send(ctx, message)
			}

			if interactive {
				model, err := app.Settings.Model(ctx, chatID)
				if err != nil {
					return err
				}
				repl.Banner(model)
			}
			return repl.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&chatID, "chat-id", shared.ConsoleChatID, "Chat whose history and settings to use")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and exit")
	return cmd
}
