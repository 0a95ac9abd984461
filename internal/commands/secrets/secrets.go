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

// Package secrets implements `relay secrets`, which manages the stored LLM
// API key.
package secrets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/secrets"
)

// newResolver is replaced in tests.
var newResolver = secrets.Default

// NewCommand creates the secrets command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store the LLM API key",
		Long: `Manage the LLM API key in the OS keychain.

The key is looked up in this order:
  1. llm.api_key in the config file, or RELAY_LLM_API_KEY / OPENAI_API_KEY
  2. RELAY_SECRET_LLM_API_KEY
  3. the OS keychain (service "relay")`,
		GroupID: shared.GroupSetup,
	}

	cmd.AddCommand(newSetKeyCommand(), newDeleteKeyCommand(), newStatusCommand())
	return cmd
}

func newSetKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key",
		Long: `Store the LLM API key. The key is read from stdin when piped,
otherwise prompted for without echo.

Examples:
  relay secrets set-key
  echo "$OPENAI_API_KEY" | relay secrets set-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := readSecretValue(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			if value == "" {
				return errors.New("API key cannot be empty")
			}

			backend, err := newResolver().Set(cmd.Context(), secrets.APIKeyName, value)
			if err != nil {
				if errors.Is(err, secrets.ErrBackendUnavailable) {
					return shared.NewConfigError("no writable secret store", fmt.Errorf("%w; export RELAY_LLM_API_KEY instead", err))
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("API key %s stored in %s", log.MaskSecret(value), backend)))
			return nil
		},
	}
}

func newDeleteKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the stored LLM API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := newResolver().Delete(cmd.Context(), secrets.APIKeyName)
			if errors.Is(err, secrets.ErrSecretNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("No stored API key."))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("API key deleted."))
			return nil
		},
	}
}

// StatusOutput is the --json output of `relay secrets status`.
type StatusOutput struct {
	shared.JSONResponse
	Stored bool   `json:"stored"`
	Masked string `json:"masked,omitempty"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether an API key is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := newResolver().Get(cmd.Context(), secrets.APIKeyName)
			if err != nil && !errors.Is(err, secrets.ErrSecretNotFound) && !errors.Is(err, secrets.ErrBackendUnavailable) {
				return err
			}
			status := StatusOutput{JSONResponse: shared.NewJSONResponse("secrets status")}
			if err == nil {
				status.Stored = true
				status.Masked = log.MaskSecret(value)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), status)
			}
			if status.Stored {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("API key stored: "+status.Masked))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("No stored API key. Run 'relay secrets set-key'."))
			}
			return nil
		},
	}
}

// readSecretValue reads a piped value, or prompts with echo disabled when
// in is a terminal.
func readSecretValue(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && shared.IsTerminal(f) {
		fmt.Fprint(prompt, "Enter API key (hidden): ")
		value, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(value)), nil
	}

	data, err := io.ReadAll(io.LimitReader(in, 64*1024))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
