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

package tools

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/mcp"
)

// CallOutput is the --json output of `relay call`.
type CallOutput struct {
	shared.JSONResponse
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

// NewCallCommand creates the call command.
func NewCallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Call a tool directly",
		Long: `Call a tool on whichever configured server exposes it and print the
text result. Arguments are a JSON object.

Examples:
  relay call get_weather '{"city": "Oslo"}'
  relay call list_repos --json`,
		GroupID: shared.GroupTools,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var toolArgs map[string]any
			if len(args) == 2 {
				var err error
				if toolArgs, err = parseArgs(args[1]); err != nil {
					return err
				}
			}

			return withTools(cmd.Context(), func(m *mcp.Manager) error {
				text, err := m.ExecuteTool(cmd.Context(), name, toolArgs)
				if err != nil {
					return shared.NewToolError(fmt.Sprintf("tool %s failed", name), err)
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), CallOutput{
						JSONResponse: shared.NewJSONResponse("call"),
						Tool:         name,
						Result:       text,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
}

// parseArgs decodes a JSON object of tool arguments.
func parseArgs(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		return nil, fmt.Errorf("arguments must be a JSON object, got %s", raw)
	}
	return args, nil
}
