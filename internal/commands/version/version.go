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

package version

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
)

// Info contains version metadata
type Info struct {
	shared.JSONResponse
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// NewCommand creates the version command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		GroupID: shared.GroupSetup,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, c, b := shared.GetVersion()
			info := Info{
				JSONResponse: shared.NewJSONResponse("version"),
				Version:      v,
				Commit:       c,
				BuildDate:    b,
				GoVersion:    runtime.Version(),
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), info)
			}

			cmd.Printf("relay version %s\n", info.Version)
			cmd.Printf("  %s %s\n", shared.RenderLabel("commit:    "), info.Commit)
			cmd.Printf("  %s %s\n", shared.RenderLabel("build date:"), info.BuildDate)
			cmd.Printf("  %s %s\n", shared.RenderLabel("go:        "), info.GoVersion)
			return nil
		},
	}
}
