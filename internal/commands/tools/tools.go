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

// Package tools implements the commands that talk to tool servers directly:
// tools, call and servers.
package tools

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/completion"
	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/mcp"
)

// openApp is replaced in tests.
var openApp = func(ctx context.Context) (*shared.App, error) {
	return shared.OpenApp(ctx, shared.AppOptions{})
}

// withTools opens the app, runs fn against the tool manager and stops the
// tool servers afterwards.
func withTools(ctx context.Context, fn func(*mcp.Manager) error) (err error) {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	manager, err := app.RequireTools()
	if err != nil {
		return err
	}
	return fn(manager)
}

// ToolsOutput is the --json output of `relay tools`.
type ToolsOutput struct {
	shared.JSONResponse
	Tools []mcp.ToolDescriptor `json:"tools"`
	Total int                  `json:"total"`
}

// NewToolsCommand creates the tools command.
func NewToolsCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools from every configured server",
		Long: `Connect to every configured tool server and list the tools the model
can call, grouped by server.

Examples:
  relay tools
  relay tools --server weather
  relay tools --json`,
		GroupID: shared.GroupTools,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd.Context(), func(m *mcp.Manager) error {
				tools, err := m.GetAllTools(cmd.Context())
				if err != nil {
					return shared.NewToolError("failed to list tools", err)
				}
				if server != "" {
					tools = mcp.GroupByServer(tools)[server]
				}
				if shared.GetJSON() {
					if tools == nil {
						tools = []mcp.ToolDescriptor{}
					}
					return shared.EmitJSON(cmd.OutOrStdout(), ToolsOutput{
						JSONResponse: shared.NewJSONResponse("tools"),
						Tools:        tools,
						Total:        len(tools),
					})
				}
				renderTools(cmd.OutOrStdout(), tools)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only list tools from this server")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.CompleteServerNames)
	return cmd
}

func renderTools(out io.Writer, tools []mcp.ToolDescriptor) {
	if len(tools) == 0 {
		fmt.Fprintln(out, shared.RenderWarn("No tools available."))
		return
	}

	grouped := mcp.GroupByServer(tools)
	servers := make([]string, 0, len(grouped))
	for name := range grouped {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	for _, server := range servers {
		list := grouped[server]
		fmt.Fprintf(out, "%s %s\n", shared.Header.Render(server), shared.Muted.Render(fmt.Sprintf("(%d tools)", len(list))))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, t := range list {
			fmt.Fprintf(w, "  %s\t%s\n", t.Name, t.Description)
		}
		w.Flush()
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Total: %d tools\n", len(tools))
}
