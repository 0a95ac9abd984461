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

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/config"
)

// fakeOpenAI answers every completion with the number of messages it saw.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		var req struct {
			Messages []json.RawMessage `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": strings.Repeat("x", len(req.Messages))},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runChat(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.BaseURL = fakeOpenAI(t).URL + "/v1"
	cfg.LLM.APIKey = "sk-test"
	cfg.MCP.Enabled = false

	prev := openApp
	openApp = func(ctx context.Context) (*shared.App, error) {
		return shared.NewApp(ctx, cfg, shared.AppOptions{
			LLM:        true,
			LogOutput:  io.Discard,
			Registerer: prometheus.NewRegistry(),
		})
	}
	t.Cleanup(func() { openApp = prev })

	root := &cobra.Command{Use: "relay", SilenceUsage: true, SilenceErrors: true}
	root.AddGroup(&cobra.Group{ID: shared.GroupChat, Title: "Chat:"})
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"chat"}, args...))
	require.NoError(t, root.Execute())
	return out.String()
}

func TestChatCommand_KeepsHistory(t *testing.T) {
	out := runChat(t, "one\ntwo\n/clear\nthree\n")

	// system+user, then system+2 history+user, then history cleared.
	assert.Equal(t, "relay> xx\nrelay> xxxx\nrelay> Chat history cleared.\nrelay> xx\n", out)
}

func TestChatCommand_OneShot(t *testing.T) {
	out := runChat(t, "", "-m", "hello", "--chat-id", "scripted")
	assert.Equal(t, "relay> xx\n", out)
}
