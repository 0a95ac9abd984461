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

package providers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "sk-test",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return p
}

func TestNewOpenAIProvider_RejectsBadURL(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{BaseURL: "ftp://example.com"})
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOpenAIProvider_CompleteText(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("X-Request-Id", "req_123")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
		}`)
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{llm.System("be brief"), llm.User("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, "req_123", resp.RequestID)
	assert.Equal(t, 11, resp.Usage.TotalTokens)
	assert.False(t, resp.HasToolCalls())

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.NotContains(t, got, "tools")
	assert.NotContains(t, got, "tool_choice")
	assert.NotContains(t, got, "max_tokens")
	assert.Len(t, got["messages"], 2)
}

func TestOpenAIProvider_CompleteToolCalls(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{
			"model": "gpt-4o-mini",
			"choices": [{
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Model:      "gpt-4o-mini",
		Messages:   []llm.Message{llm.User("look up x")},
		MaxTokens:  llm.IntPtr(128),
		Tools:      []llm.Tool{{Name: "lookup", Description: "Look things up"}},
		ToolChoice: llm.ToolChoiceAuto,
	})
	require.NoError(t, err)

	require.True(t, resp.HasToolCalls())
	assert.Equal(t, "", resp.Content)
	assert.Equal(t, llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`}, resp.ToolCalls[0])

	assert.Equal(t, "auto", got["tool_choice"])
	assert.Equal(t, float64(128), got["max_tokens"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "lookup", fn["name"])
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, fn["parameters"])
}

func TestOpenAIProvider_ToolMessagesRoundTrip(t *testing.T) {
	var got struct {
		Messages []map[string]any `json:"messages"`
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"done"},"finish_reason":"stop"}]}`)
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Model: "m",
		Messages: []llm.Message{
			llm.User("q"),
			{Role: llm.MessageRoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Arguments: "{}"}}},
			{Role: llm.MessageRoleTool, ToolCallID: "c1", Name: "lookup", Content: "42"},
		},
	})
	require.NoError(t, err)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, "c1", got.Messages[2]["tool_call_id"])
	assert.Equal(t, "lookup", got.Messages[2]["name"])
	calls := got.Messages[1]["tool_calls"].([]any)
	assert.Equal(t, "function", calls[0].(map[string]any)["type"])
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		badRequest bool
		retryable  bool
		message    string
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"context too long","type":"invalid_request_error"}}`, true, false, "context too long"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, false, true, "slow down"},
		{"server error plain body", http.StatusInternalServerError, `oops`, false, true, "status 500: oops"},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, false, false, "bad key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := p.Complete(context.Background(), llm.CompletionRequest{Model: "m"})
			require.Error(t, err)

			var pe *errors.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Contains(t, pe.Message, tt.message)
			assert.Equal(t, tt.badRequest, errors.IsBadRequest(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	})
	_, err := p.Complete(context.Background(), llm.CompletionRequest{Model: "m"})
	assert.Error(t, err)
}

func TestOpenAIProvider_ListModels(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[
			{"id":"gpt-4o","owned_by":"openai"},
			{"id":"gpt-4o-mini","owned_by":"openai"},
			{"id":"qwen3-coder-plus","owned_by":"qwen"},
			{"id":"mystery"}
		]}`)
	})

	models := p.ListModels(context.Background())
	assert.Equal(t, map[string][]string{
		"openai":  {"gpt-4o", "gpt-4o-mini"},
		"qwen":    {"qwen3-coder-plus"},
		"unknown": {"mystery"},
	}, models)
}

func TestOpenAIProvider_ListModelsFallback(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	models := p.ListModels(context.Background())
	assert.Equal(t, DefaultModels, models)

	models["openai"][0] = "mutated"
	assert.Equal(t, "gpt-5.2", DefaultModels["openai"][0])
}
