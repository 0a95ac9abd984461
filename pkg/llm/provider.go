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

// Package llm defines the completion API contract relay consumes.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is an LLM completion backend.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "openai").
	Name() string

	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ToolChoiceAuto lets the model decide whether to call tools.
const ToolChoiceAuto = "auto"

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model is the model ID to use.
	Model string

	// Messages is the conversation history including the current prompt.
	Messages []Message

	// MaxTokens limits the response length. If nil, uses provider default.
	MaxTokens *int

	// Tools defines available functions the model can call.
	Tools []Tool

	// ToolChoice is sent only when Tools is non-empty. Usually ToolChoiceAuto.
	ToolChoice string

	// Metadata contains request tracking information (correlation IDs, etc).
	Metadata map[string]string
}

// Message represents a single message in a conversation.
type Message struct {
	// Role indicates who sent this message (user, assistant, system, tool).
	Role MessageRole

	// Content is the text content of the message.
	Content string

	// ToolCalls contains any tool invocations made by the assistant.
	// Only valid when Role is "assistant".
	ToolCalls []ToolCall

	// ToolCallID links this message to a specific tool call.
	// Only valid when Role is "tool".
	ToolCallID string

	// Name identifies the tool that produced this result.
	// Only valid when Role is "tool".
	Name string
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall represents a function invocation requested by the model.
type ToolCall struct {
	// ID correlates the result message back to this call.
	ID string

	// Name is the function name to invoke.
	Name string

	// Arguments is the raw JSON-encoded argument payload as sent by the model.
	// It may be empty or malformed.
	Arguments string
}

// Tool defines a function the LLM can invoke.
type Tool struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the arguments, passed through untouched.
	Parameters json.RawMessage
}

// CompletionResponse contains the model output for one request.
type CompletionResponse struct {
	// Content is the generated text. May be empty when ToolCalls is set.
	Content string

	// ToolCalls contains any tool invocations requested by the model.
	ToolCalls []ToolCall

	// FinishReason explains why generation stopped.
	FinishReason FinishReason

	Usage TokenUsage

	// Model is the actual model ID that handled this request.
	Model string

	// RequestID is the unique identifier for this request (for tracing).
	RequestID string
}

// HasToolCalls reports whether the model requested at least one tool call.
func (r *CompletionResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// FinishReason indicates why completion generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// IntPtr returns a pointer to n, or nil when n is zero.
func IntPtr(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
