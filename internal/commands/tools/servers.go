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
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/mcp"
)

// ServersOutput is the --json output of `relay servers`.
type ServersOutput struct {
	shared.JSONResponse
	Servers []mcp.ServerStatus `json:"servers"`
}

// NewServersCommand creates the servers command.
func NewServersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Show tool server connection status",
		Long: `Connect to every configured tool server and report whether it is
ready, how many tools it exposes and the last error seen.`,
		GroupID: shared.GroupTools,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd.Context(), func(m *mcp.Manager) error {
				// Connections are opened on demand; discovery brings them up.
				// Failures show up as LastError in the status.
				_, _ = m.GetAllTools(cmd.Context())
				status := m.ServerStatus()
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), ServersOutput{
						JSONResponse: shared.NewJSONResponse("servers"),
						Servers:      status,
					})
				}
				renderServers(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func renderServers(out io.Writer, status []mcp.ServerStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tTOOLS\tLAST ERROR")
	for _, s := range status {
		lastErr := "-"
		if s.LastError != "" {
			lastErr = s.LastError
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, stateLabel(s), s.ToolCount, lastErr)
	}
	w.Flush()
}

func stateLabel(s mcp.ServerStatus) string {
	if s.Connected {
		return shared.SymbolOK + " " + s.State
	}
	if s.LastError != "" {
		return shared.SymbolError + " " + s.State
	}
	return shared.SymbolInfo + " " + s.State
}
