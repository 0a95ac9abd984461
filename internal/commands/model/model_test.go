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

package model

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/storage"
)

// useTestApp serves a fixed model list and keeps settings in blobs so they
// survive between command runs.
func useTestApp(t *testing.T) storage.BlobStore {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data": [
			{"id": "gpt-4o-mini", "owned_by": "openai"},
			{"id": "gpt-4o", "owned_by": "openai"},
			{"id": "qwen3-coder-plus", "owned_by": "qwen"}
		]}`)
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.LLM.BaseURL = srv.URL + "/v1"
	cfg.LLM.APIKey = "sk-test"
	cfg.MCP.Enabled = false

	blobs := storage.NewMemoryStore()
	prevOpen, prevNI, prevSelect := openApp, nonInteractive, selectModel
	openApp = func(ctx context.Context) (*shared.App, error) {
		app, err := shared.NewApp(ctx, cfg, shared.AppOptions{
			LLM:        true,
			LogOutput:  io.Discard,
			Registerer: prometheus.NewRegistry(),
		})
		if err != nil {
			return nil, err
		}
		app.Settings = storage.NewSettingsStore(blobs, cfg.LLM.DefaultModel)
		return app, nil
	}
	t.Cleanup(func() {
		openApp, nonInteractive, selectModel = prevOpen, prevNI, prevSelect
		shared.SetJSONForTest(false)
	})
	return blobs
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "relay", SilenceUsage: true, SilenceErrors: true}
	root.AddGroup(&cobra.Group{ID: shared.GroupSetup, Title: "Setup:"})
	_, jsonPtr, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonPtr, "json", false, "JSON output")
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"models"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestModelsCommand_List(t *testing.T) {
	useTestApp(t)

	out, err := run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "MODEL")
	assert.Regexp(t, `\*\s+gpt-4o-mini\s+openai`, out)
	assert.Contains(t, out, "qwen3-coder-plus")
}

func TestModelsCommand_JSON(t *testing.T) {
	useTestApp(t)

	out, err := run(t, "--json")
	require.NoError(t, err)

	var resp Output
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, shared.ConsoleChatID, resp.ChatID)
	assert.Equal(t, "gpt-4o-mini", resp.Current)
	assert.Equal(t, []Info{
		{ID: "gpt-4o", Owner: "openai"},
		{ID: "gpt-4o-mini", Owner: "openai"},
		{ID: "qwen3-coder-plus", Owner: "qwen"},
	}, resp.Models)
}

func TestModelsCommand_Pick(t *testing.T) {
	blobs := useTestApp(t)
	nonInteractive = func() bool { return false }
	selectModel = func(models []Info, current string) (string, error) {
		assert.Len(t, models, 3)
		assert.Equal(t, "gpt-4o-mini", current)
		return "qwen3-coder-plus", nil
	}

	out, err := run(t, "--pick", "--chat-id", "work")
	require.NoError(t, err)
	assert.Contains(t, out, "Model for work changed to: qwen3-coder-plus")

	settings := storage.NewSettingsStore(blobs, "gpt-4o-mini")
	model, err := settings.Model(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, "qwen3-coder-plus", model)

	model, err = settings.Model(context.Background(), shared.ConsoleChatID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model)
}

func TestModelsCommand_PickAborted(t *testing.T) {
	useTestApp(t)
	nonInteractive = func() bool { return false }
	selectModel = func([]Info, string) (string, error) { return "", huh.ErrUserAborted }

	out, err := run(t, "--pick")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestModelsCommand_PickNonInteractive(t *testing.T) {
	useTestApp(t)
	nonInteractive = func() bool { return true }

	_, err := run(t, "--pick")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interactive terminal")
}
