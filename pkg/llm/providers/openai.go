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

// Package providers contains llm.Provider implementations.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/httpclient"
	"github.com/tombee/relay/pkg/llm"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIProviderName   = "openai"

	// maxErrorBody bounds how much of an error response is kept in messages.
	maxErrorBody = 2048
)

// DefaultModels is returned by ListModels when the endpoint cannot be read.
// Keys are owners, values are model IDs.
var DefaultModels = map[string][]string{
	"z.ai":   {"glm-4.7"},
	"qwen":   {"qwen3-coder-plus"},
	"openai": {"gpt-5.2"},
}

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string
	APIKey  string

	// Timeout bounds a single HTTP request. Defaults to 60s.
	Timeout time.Duration

	Logger *slog.Logger
}

// OpenAIProvider talks to any server implementing the OpenAI chat
// completions and models endpoints.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIProvider creates a provider for cfg. An empty API key is allowed
// for local gateways that do not authenticate.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, &errors.ConfigError{
			Key:    "llm.base_url",
			Reason: fmt.Sprintf("must be an http(s) URL, got %q", cfg.BaseURL),
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	if hc.Timeout <= 0 {
		hc.Timeout = 60 * time.Second
	}
	hc.UserAgent = "relay-openai/1.0"
	hc.Logger = logger
	// Completions are retried by llm.RetryableProvider and the processor,
	// which understand provider error classes.
	hc.RetryAttempts = 0

	httpClient, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &OpenAIProvider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return openAIProviderName
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	apiReq := p.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider: openAIProviderName,
			Message:  fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	var apiResp openAIChatResponse
	requestID, err := p.do(ctx, http.MethodPost, "/chat/completions", body, &apiResp)
	if err != nil {
		return nil, err
	}

	if len(apiResp.Choices) == 0 {
		return nil, &errors.ProviderError{
			Provider:  openAIProviderName,
			Message:   "response contained no choices",
			RequestID: requestID,
		}
	}

	choice := apiResp.Choices[0]
	resp := &llm.CompletionResponse{
		FinishReason: llm.FinishReason(choice.FinishReason),
		Model:        apiResp.Model,
		RequestID:    requestID,
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}
	if resp.RequestID == "" {
		resp.RequestID = apiResp.ID
	}
	if choice.Message.Content != nil {
		resp.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return resp, nil
}

// ListModels returns available model IDs grouped by owner. Any failure to
// read the endpoint yields DefaultModels.
func (p *OpenAIProvider) ListModels(ctx context.Context) map[string][]string {
	var apiResp openAIModelsResponse
	if _, err := p.do(ctx, http.MethodGet, "/models", nil, &apiResp); err != nil {
		p.logger.Warn("failed to list models, using defaults", slog.String("error", err.Error()))
		return cloneModels(DefaultModels)
	}

	grouped := make(map[string][]string)
	for _, m := range apiResp.Data {
		if m.ID == "" {
			continue
		}
		owner := m.OwnedBy
		if owner == "" {
			owner = "unknown"
		}
		grouped[owner] = append(grouped[owner], m.ID)
	}
	if len(grouped) == 0 {
		return cloneModels(DefaultModels)
	}
	for owner := range grouped {
		sort.Strings(grouped[owner])
	}
	return grouped
}

func (p *OpenAIProvider) do(ctx context.Context, method, path string, body []byte, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return "", &errors.ProviderError{
			Provider: openAIProviderName,
			Message:  fmt.Sprintf("failed to create request: %v", err),
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", &errors.ProviderError{
			Provider: openAIProviderName,
			Message:  fmt.Sprintf("request failed: %v", err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("X-Request-Id")

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestID, &errors.ProviderError{
			Provider:   openAIProviderName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			RequestID:  requestID,
			Cause:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return requestID, newOpenAIError(resp.StatusCode, respBody, requestID)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return requestID, &errors.ProviderError{
			Provider:   openAIProviderName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse response: %v", err),
			RequestID:  requestID,
		}
	}
	return requestID, nil
}

func newOpenAIError(status int, body []byte, requestID string) *errors.ProviderError {
	pe := &errors.ProviderError{
		Provider:   openAIProviderName,
		StatusCode: status,
		RequestID:  requestID,
		Suggestion: suggestionForStatus(status),
	}

	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		pe.Message = errResp.Error.Message
		return pe
	}

	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	pe.Message = fmt.Sprintf("API request failed with status %d: %s", status, text)
	return pe
}

func suggestionForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "Check that the API key is valid (relay secrets set-key)"
	case http.StatusForbidden:
		return "The API key may not have access to this model"
	case http.StatusNotFound:
		return "Check llm.base_url and the model name"
	case http.StatusTooManyRequests:
		return "Rate limited by the provider; wait and retry"
	case http.StatusBadRequest:
		return "The request was rejected; try /clear to reset the conversation"
	default:
		return ""
	}
}

func (p *OpenAIProvider) buildRequest(req llm.CompletionRequest) openAIChatRequest {
	apiReq := openAIChatRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  make([]openAIMessage, 0, len(req.Messages)),
	}

	for _, m := range req.Messages {
		msg := openAIMessage{
			Role:       string(m.Role),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		content := m.Content
		msg.Content = &content
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		apiReq.Messages = append(apiReq.Messages, msg)
	}

	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			params := t.Parameters
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			apiReq.Tools = append(apiReq.Tools, openAITool{
				Type: "function",
				Function: openAIFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
		apiReq.ToolChoice = req.ToolChoice
		if apiReq.ToolChoice == "" {
			apiReq.ToolChoice = llm.ToolChoiceAuto
		}
	}

	return apiReq
}

func cloneModels(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Wire types for the chat completions API.

type openAIChatRequest struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	MaxTokens  *int            `json:"max_tokens,omitempty"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIModelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
