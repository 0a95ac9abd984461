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

// Package agent drives the bounded tool-calling loop between an LLM and a
// set of tools.
//
// Given a model response that requests tool calls, the loop:
// 1. Records the assistant's tool-call message in the conversation
// 2. Executes each requested tool in the order the model emitted them
// 3. Appends one tool-result message per call
// 4. Resubmits the conversation to the model
// 5. Repeats until the model stops asking for tools or the iteration cap
// is reached
//
// Tool failures never abort the loop; they are fed back to the model as
// error payloads so it can react.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/pkg/llm"
)

// NoTextResponse is returned when the loop ends on a response without text.
const NoTextResponse = "I used tools but couldn't generate a text response."

// ToolExecutor runs a named tool and returns its textual result.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Agent runs tool loops against one provider and one tool executor.
// It holds no per-run state and is safe for concurrent use.
type Agent struct {
	llm            llm.Provider
	tools          ToolExecutor
	cfg            Config
	contextManager *ContextManager
	logger         *slog.Logger
}

// Request carries the parameters reused for every resubmission.
type Request struct {
	Model     string
	MaxTokens *int

	// Tools is the function schema sent with the original call.
	Tools []llm.Tool
}

// Result is the outcome of one loop run.
type Result struct {
	// Text is the final response text, or NoTextResponse.
	Text string

	// HitIterationCap is true when the loop stopped at the cap while the
	// model was still requesting tools. It is never set together with Err.
	HitIterationCap bool

	// Iterations is the number of resubmission rounds started.
	Iterations int

	// ToolExecutions logs every tool call made, in order.
	ToolExecutions []ToolExecution

	// TokensUsed sums usage over the resubmissions.
	TokensUsed llm.TokenUsage

	// Err is the resubmission failure that ended the loop early, if any.
	Err error

	Duration time.Duration
}

// ToolExecution records a single tool execution.
type ToolExecution struct {
	CallID   string
	ToolName string

	// Inputs are the parsed arguments. Nil when parsing failed.
	Inputs map[string]any

	// Output is the content appended to the conversation.
	Output string

	Success  bool
	Error    string
	Duration time.Duration
}

// NewAgent creates an agent with DefaultConfig.
func NewAgent(provider llm.Provider, tools ToolExecutor) *Agent {
	cfg := DefaultConfig()
	return &Agent{
		llm:            provider,
		tools:          tools,
		cfg:            cfg,
		contextManager: NewContextManager(cfg.ContextWindow),
		logger:         slog.Default(),
	}
}

// WithConfig replaces the loop configuration.
func (a *Agent) WithConfig(cfg Config) *Agent {
	a.cfg = cfg.WithDefaults()
	a.contextManager = NewContextManager(a.cfg.ContextWindow)
	return a
}

// WithMaxIterations sets the iteration cap.
func (a *Agent) WithMaxIterations(max int) *Agent {
	a.cfg.MaxIterations = max
	a.cfg = a.cfg.WithDefaults()
	return a
}

// WithLogger sets the logger.
func (a *Agent) WithLogger(logger *slog.Logger) *Agent {
	a.logger = log.OrDefault(logger)
	return a
}

// MaxIterations returns the configured iteration cap.
func (a *Agent) MaxIterations() int { return a.cfg.MaxIterations }

// Run drives the loop starting from initial, appending to conv in place.
// It never returns an error: upstream failures end the loop and are
// reported through Result.Err alongside the best available text.
func (a *Agent) Run(ctx context.Context, initial *llm.CompletionResponse, conv *llm.Conversation, req Request) *Result {
	start := time.Now()
	result := &Result{}

	resp := initial
	for resp.HasToolCalls() && result.Iterations < a.cfg.MaxIterations {
		result.Iterations++
		logger := a.logger.With(slog.Int(log.IterationKey, result.Iterations))
		logger.Info("executing tool calls", slog.Any("tools", toolNames(resp.ToolCalls)))

		conv.Append(llm.Message{
			Role:      llm.MessageRoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			exec := a.executeTool(ctx, logger, call)
			result.ToolExecutions = append(result.ToolExecutions, exec)
			conv.Append(llm.Message{
				Role:       llm.MessageRoleTool,
				Content:    exec.Output,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}

		messages := conv.Messages()
		if a.contextManager.NearLimit(messages) {
			stats := a.contextManager.GetStats(messages)
			logger.Warn("conversation is close to the context window",
				slog.Int("estimated_tokens", stats.EstimatedTokens),
				slog.Int("max_tokens", stats.MaxTokens))
		}

		completionReq := llm.CompletionRequest{
			Model:     req.Model,
			Messages:  messages,
			MaxTokens: req.MaxTokens,
			Tools:     req.Tools,
		}
		if len(req.Tools) > 0 {
			completionReq.ToolChoice = llm.ToolChoiceAuto
		}

		callStart := time.Now()
		next, err := a.llm.Complete(ctx, completionReq)
		if err != nil {
			logger.Error("resubmission failed, ending tool loop", log.Error(err))
			result.Err = err
			break
		}
		logger.Info("resubmission completed",
			slog.String(log.ModelKey, req.Model),
			slog.Int("messages", len(messages)),
			slog.Int64(log.DurationKey, time.Since(callStart).Milliseconds()),
			slog.Bool("has_tool_calls", next.HasToolCalls()))

		result.TokensUsed.InputTokens += next.Usage.InputTokens
		result.TokensUsed.OutputTokens += next.Usage.OutputTokens
		result.TokensUsed.TotalTokens += next.Usage.TotalTokens
		resp = next
	}

	result.HitIterationCap = result.Err == nil &&
		result.Iterations >= a.cfg.MaxIterations && resp.HasToolCalls()
	if result.HitIterationCap {
		a.logger.Warn("tool loop reached its iteration cap",
			slog.Int("max_iterations", a.cfg.MaxIterations))
	}

	result.Text = NoTextResponse
	if resp != nil && resp.Content != "" {
		result.Text = resp.Content
	}
	result.Duration = time.Since(start)
	return result
}

// executeTool runs one tool call. Every failure is converted into an error
// payload for the model.
func (a *Agent) executeTool(ctx context.Context, logger *slog.Logger, call llm.ToolCall) ToolExecution {
	start := time.Now()
	exec := ToolExecution{CallID: call.ID, ToolName: call.Name}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		exec.Error = fmt.Sprintf("Error executing tool %s: invalid arguments: %v", call.Name, err)
		exec.Output = errorPayload(exec.Error)
		exec.Duration = time.Since(start)
		logger.Warn("tool arguments could not be parsed",
			slog.String(log.ToolKey, call.Name), log.Error(err))
		return exec
	}
	exec.Inputs = args

	output, err := a.tools.ExecuteTool(ctx, call.Name, args)
	exec.Duration = time.Since(start)
	if err != nil {
		exec.Error = fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
		exec.Output = errorPayload(exec.Error)
		logger.Error("tool execution failed", slog.String(log.ToolKey, call.Name), log.Error(err))
		return exec
	}

	exec.Success = true
	exec.Output = a.contextManager.TruncateContent(output, a.cfg.MaxToolResultTokens)
	logger.Info("tool executed",
		slog.String(log.ToolKey, call.Name),
		slog.Int("result_length", len(output)),
		slog.Int64(log.DurationKey, exec.Duration.Milliseconds()))
	return exec
}

// parseArguments decodes the raw argument payload. An empty payload means
// no arguments.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func errorPayload(message string) string {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return message
	}
	return string(data)
}

func toolNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
