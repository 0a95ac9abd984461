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

package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/mcp"
	"github.com/tombee/relay/internal/secrets"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	shared.JSONResponse
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// newResolver is replaced in tests.
var newResolver = secrets.Default

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration",
		Long: `Validate the configuration file and the tool server file it names.

Checks performed:
  - YAML syntax and value ranges
  - Tool server file syntax
  - An LLM API key can be found

With --strict, warnings are treated as errors.`,
		Example: `  relay config validate
  relay config validate --strict --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result := validate(cmd.Context())
			if strict && len(result.Warnings) > 0 {
				result.Valid = false
			}

			if shared.GetJSON() {
				if err := shared.EmitJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printResult(cmd, result)
			}

			if !result.Valid {
				return shared.NewConfigError("configuration is invalid", nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}

func validate(ctx context.Context) ValidationResult {
	result := ValidationResult{JSONResponse: shared.NewJSONResponse("config validate"), Valid: true}

	cfg, err := config.Load(config.ResolvePath(shared.GetConfigPath()))
	if err != nil {
		msg := err.Error()
		if cause := errors.Unwrap(err); cause != nil {
			msg += ": " + cause.Error()
		}
		result.Valid = false
		result.Errors = append(result.Errors, msg)
		return result
	}

	if cfg.MCP.Enabled {
		servers, err := mcp.LoadServers(shared.ResolveServerFile(cfg.MCP.ConfigPath))
		switch {
		case err != nil:
			result.Valid = false
			result.Errors = append(result.Errors, err.Error())
		case len(servers) == 0:
			result.Warnings = append(result.Warnings, fmt.Sprintf("no tool servers configured in %s", cfg.MCP.ConfigPath))
		}
	}

	if _, err := newResolver().ResolveAPIKey(ctx, cfg.LLM.APIKey); err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) || errors.Is(err, secrets.ErrBackendUnavailable) {
			result.Warnings = append(result.Warnings, "no LLM API key found; run 'relay secrets set-key'")
		} else {
			result.Warnings = append(result.Warnings, err.Error())
		}
	}

	return result
}

func printResult(cmd *cobra.Command, result ValidationResult) {
	out := cmd.OutOrStdout()
	for _, e := range result.Errors {
		fmt.Fprintln(out, shared.RenderError(e))
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(out, shared.RenderWarn(w))
	}
	if result.Valid {
		fmt.Fprintln(out, shared.RenderOK("Configuration is valid"))
	}
}
