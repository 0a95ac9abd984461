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

// Package model implements `relay models`.
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
)

// openApp is replaced in tests.
var openApp = func(ctx context.Context) (*shared.App, error) {
	return shared.OpenApp(ctx, shared.AppOptions{LLM: true})
}

// nonInteractive is replaced in tests.
var nonInteractive = shared.IsNonInteractive

// selectModel asks the user to choose a model. Replaced in tests.
var selectModel = func(models []Info, current string) (string, error) {
	options := make([]huh.Option[string], 0, len(models))
	for _, m := range models {
		options = append(options, huh.NewOption(m.ID+"  ("+m.Owner+")", m.ID))
	}

	choice := current
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model").
				Description("Model used for new messages in this chat").
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

// Info describes one available model.
type Info struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// Output is the --json output of `relay models`.
type Output struct {
	shared.JSONResponse
	ChatID  string `json:"chat_id"`
	Current string `json:"current"`
	Models  []Info `json:"models"`
}

// NewCommand creates the models command.
func NewCommand() *cobra.Command {
	var (
		pick   bool
		chatID string
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models, or pick one for a chat",
		Long: `List the models the configured API offers. The current model of the
chat is marked with *. With --pick, choose a model interactively and store
it for the chat.

Examples:
  relay models
  relay models --pick
  relay models --pick --chat-id work`,
		GroupID: shared.GroupSetup,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
					err = cerr
				}
			}()

			models := flatten(app.Models.ListModels(ctx))
			current, err := app.Settings.Model(ctx, chatID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !pick {
				if shared.GetJSON() {
					return shared.EmitJSON(out, Output{
						JSONResponse: shared.NewJSONResponse("models"),
						ChatID:       chatID,
						Current:      current,
						Models:       models,
					})
				}
				renderModels(out, models, current)
				return nil
			}

			if len(models) == 0 {
				return shared.NewProviderError("no models available", nil)
			}
			if nonInteractive() {
				return fmt.Errorf("--pick needs an interactive terminal; use /model <name> in chat instead")
			}
			choice, err := selectModel(models, current)
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("model selection failed: %w", err)
			}
			if err := app.Settings.SetModel(ctx, chatID, choice); err != nil {
				return err
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Model for %s changed to: %s", chatID, choice)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&pick, "pick", false, "Choose a model interactively")
	cmd.Flags().StringVar(&chatID, "chat-id", shared.ConsoleChatID, "Chat whose model to show or change")
	return cmd
}

// flatten turns the owner-grouped listing into a list sorted by owner then ID.
func flatten(grouped map[string][]string) []Info {
	models := []Info{}
	for owner, ids := range grouped {
		for _, id := range ids {
			models = append(models, Info{ID: id, Owner: owner})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Owner != models[j].Owner {
			return models[i].Owner < models[j].Owner
		}
		return models[i].ID < models[j].ID
	})
	return models
}

func renderModels(out io.Writer, models []Info, current string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tMODEL\tOWNER")
	for _, m := range models {
		marker := ""
		if m.ID == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", marker, m.ID, m.Owner)
	}
	w.Flush()
}
