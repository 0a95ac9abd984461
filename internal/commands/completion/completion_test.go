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

package completion

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/commands/shared"
)

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "relay"}
	root.AddGroup(&cobra.Group{ID: shared.GroupSetup, Title: "Setup:"})
	root.AddCommand(NewCommand())

	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs([]string{"completion", shell})
			require.NoError(t, root.Execute())
			assert.Contains(t, out.String(), "relay")
		})
	}

	root.SetArgs([]string{"completion", "tcsh"})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestCompleteServerNames(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)
	shared.SetConfigPathForTest("")

	servers := `{"mcpServers": {
		"weather": {"command": "mcp-weather"},
		"web": {"command": "mcp-web"},
		"files": {"command": "mcp-files"},
		"off": {"command": "mcp-off", "enabled": false}
	}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp.json"), []byte(servers), 0600))

	names, directive := CompleteServerNames(nil, nil, "")
	assert.Equal(t, []string{"files", "weather", "web"}, names)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	names, _ = CompleteServerNames(nil, nil, "we")
	assert.Equal(t, []string{"weather", "web"}, names)
}

func TestCompleteServerNames_NoFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)

	names, directive := CompleteServerNames(nil, nil, "")
	assert.Empty(t, names)
	assert.NotNil(t, names)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestCompleteServerNames_OpenConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0644))
	require.NoError(t, os.Chmod(path, 0644))
	shared.SetConfigPathForTest(path)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	names, _ := CompleteServerNames(nil, nil, "")
	assert.Empty(t, names)
}

func TestSafeCompletionWrapper(t *testing.T) {
	names, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Equal(t, []string{}, names)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	names, _ = SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	assert.Equal(t, []string{}, names)
}
