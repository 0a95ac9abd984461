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

// Package bot turns inbound chat text into assistant replies.
//
// A Processor owns the per-message flow: rate limiting, history
// load/trim/save, system prompt selection, tool discovery, the completion
// call with its bad-request recovery, and the tool-call loop. Slash
// commands are handled separately by HandleCommand. The chat platform
// adapter (console REPL or HTTP API) is the caller.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/mcp"
	"github.com/tombee/relay/internal/storage"
	"github.com/tombee/relay/internal/tracing"
	"github.com/tombee/relay/pkg/agent"
	relayerrors "github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/llm"
)

const tracerName = "github.com/tombee/relay/internal/bot"

const (
	// ApologyMessage is returned when the API keeps rejecting the request
	// even with a cleared history.
	ApologyMessage = "Sorry, something went wrong while processing your request. Please try again later."

	// NoResponse is returned when the model answers with empty text.
	NoResponse = "No response."
)

// ToolSource is the tool layer seen by the processor. *mcp.Manager
// implements it.
type ToolSource interface {
	IsConfigured() bool
	GetAllTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	LLMTools(ctx context.Context) ([]llm.Tool, error)
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// ModelLister lists available models grouped by owner.
type ModelLister interface {
	ListModels(ctx context.Context) map[string][]string
}

// Options configures a Processor.
type Options struct {
	Bot config.BotConfig

	// MaxIterations caps tool-loop rounds per message.
	MaxIterations int

	// MaxTokens caps completion length. Zero leaves it to the API.
	MaxTokens int

	Provider llm.Provider

	// Tools may be nil, in which case messages never carry tools.
	Tools ToolSource

	// Models validates /model arguments when set.
	Models ModelLister

	History  *storage.HistoryStore
	Settings *storage.SettingsStore

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider

	// Now overrides the rate limiter clock in tests.
	Now func() time.Time
}

// Processor handles chat messages. It is safe for concurrent use; messages
// for the same chat are not serialized against each other.
type Processor struct {
	opts    Options
	limiter *RateLimiter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewProcessor validates opts and creates a Processor.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.History == nil || opts.Settings == nil {
		return nil, fmt.Errorf("history and settings stores are required")
	}
	if opts.Bot.SystemPrompt == "" {
		opts.Bot.SystemPrompt = config.DefaultSystemPrompt
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = agent.DefaultConfig().MaxIterations
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Processor{
		opts:    opts,
		limiter: NewRateLimiter(opts.Bot.RateLimitRequests, opts.Bot.RateLimitWindow, opts.Now),
		logger:  log.OrDefault(opts.Logger),
		tracer:  tp.Tracer(tracerName),
	}, nil
}

// Process answers one user message. A rate-limit rejection is returned as
// *RateLimitError. Errors other than a bad-request rejection of the first
// completion are returned as is.
func (p *Processor) Process(ctx context.Context, chatID, text string) (reply string, err error) {
	start := time.Now()
	ctx, corrID := tracing.Ensure(ctx)
	logger := log.WithCorrelationID(log.WithChat(p.logger, chatID), corrID.String())

	ctx, span := p.tracer.Start(ctx, "bot.process", trace.WithAttributes(
		attribute.String("chat.id", chatID),
	))
	outcome := outcomeOK
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		messagesTotal.WithLabelValues(outcome).Inc()
		processingDuration.Observe(time.Since(start).Seconds())
	}()

	if err := p.limiter.Allow(chatID); err != nil {
		outcome = outcomeRateLimited
		var rle *RateLimitError
		if errors.As(err, &rle) {
			logger.Warn("rate limit exceeded", slog.Duration("wait", rle.Wait))
		}
		return "", err
	}

	model, err := p.opts.Settings.Model(ctx, chatID)
	if err != nil {
		outcome = outcomeError
		return "", err
	}
	logger = logger.With(slog.String(log.ModelKey, model))
	span.SetAttributes(attribute.String("llm.model", model))
	logger.Info("processing message", slog.String("text", log.Truncate(text, 200)))

	history := p.loadHistory(ctx, logger, chatID)
	system := p.systemPrompt(ctx, logger, chatID)

	conv := llm.NewConversation(llm.System(system))
	conv.Append(history...)
	conv.Append(llm.User(text))

	tools := p.availableTools(ctx, logger, chatID)
	req := llm.CompletionRequest{
		Model:     model,
		Messages:  conv.Messages(),
		MaxTokens: llm.IntPtr(p.opts.MaxTokens),
		Tools:     tools,
		Metadata:  map[string]string{"correlation_id": corrID.String()},
	}
	if len(tools) > 0 {
		req.ToolChoice = llm.ToolChoiceAuto
	}

	resp, err := p.opts.Provider.Complete(ctx, req)
	if err != nil {
		logger.Error("completion failed", log.Error(err))
		if !relayerrors.IsBadRequest(err) {
			outcome = outcomeError
			return "", err
		}
		resp, conv = p.retryWithoutHistory(ctx, logger, chatID, req, system, text)
		if resp == nil {
			outcome = outcomeApology
			return ApologyMessage, nil
		}
		history = nil
	}

	if resp.HasToolCalls() {
		var executor agent.ToolExecutor = noTools{}
		if p.opts.Tools != nil {
			executor = p.opts.Tools
		}
		result := agent.NewAgent(p.opts.Provider, executor).
			WithMaxIterations(p.opts.MaxIterations).
			WithLogger(logger).
			Run(ctx, resp, conv, agent.Request{Model: model, MaxTokens: req.MaxTokens, Tools: tools})
		toolIterations.Observe(float64(result.Iterations))
		span.SetAttributes(
			attribute.Int("tool.iterations", result.Iterations),
			attribute.Int("tool.executions", len(result.ToolExecutions)),
			attribute.Bool("tool.hit_iteration_cap", result.HitIterationCap),
		)
		reply = result.Text
	} else {
		reply = resp.Content
		if reply == "" {
			reply = NoResponse
		}
	}

	history = append(history, llm.User(text), llm.Assistant(reply))
	if err := p.opts.History.Save(ctx, chatID, history); err != nil {
		logger.Error("failed to save chat history", log.Error(err))
	}

	logger.Info("message processed",
		slog.Int("response_length", len(reply)),
		slog.String("response", log.Truncate(reply, 200)),
		slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))
	return reply, nil
}

// retryWithoutHistory resends [system, user] up to APIMaxRetries times,
// clearing the stored history before each attempt. It returns a nil
// response when every attempt fails.
func (p *Processor) retryWithoutHistory(ctx context.Context, logger *slog.Logger, chatID string, req llm.CompletionRequest, system, text string) (*llm.CompletionResponse, *llm.Conversation) {
	attempts := p.opts.Bot.APIMaxRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Warn("bad request, clearing history and retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts))
		badRequestRetries.Inc()

		if err := p.opts.History.Clear(ctx, chatID); err != nil {
			logger.Error("failed to clear chat history", log.Error(err))
		}

		conv := llm.NewConversation(llm.System(system), llm.User(text))
		req.Messages = conv.Messages()
		resp, err := p.opts.Provider.Complete(ctx, req)
		if err == nil {
			return resp, conv
		}
		if ctx.Err() != nil {
			break
		}
		logger.Error("retry failed", slog.Int("attempt", attempt), log.Error(err))
	}
	logger.Error("retries exhausted after bad request")
	return nil, nil
}

// loadHistory returns the trimmed stored history. Load failures degrade to
// an empty history.
func (p *Processor) loadHistory(ctx context.Context, logger *slog.Logger, chatID string) []llm.Message {
	history, err := p.opts.History.Load(ctx, chatID)
	if err != nil {
		logger.Error("failed to load chat history, starting fresh", log.Error(err))
		return nil
	}
	trimmed := llm.TrimHistory(history, p.opts.Bot.MaxHistory)
	if len(trimmed) < len(history) {
		logger.Info("history trimmed",
			slog.Int("old_length", len(history)),
			slog.Int("new_length", len(trimmed)))
	}
	return trimmed
}

func (p *Processor) systemPrompt(ctx context.Context, logger *slog.Logger, chatID string) string {
	prompt, ok, err := p.opts.Settings.SystemPrompt(ctx, chatID)
	if err != nil {
		logger.Warn("failed to load system prompt override", log.Error(err))
		return p.opts.Bot.SystemPrompt
	}
	if ok && prompt != "" {
		return prompt
	}
	return p.opts.Bot.SystemPrompt
}

// availableTools returns the tool schema for the chat, or nil when tools
// are disabled or discovery fails.
func (p *Processor) availableTools(ctx context.Context, logger *slog.Logger, chatID string) []llm.Tool {
	if p.opts.Tools == nil || !p.opts.Tools.IsConfigured() {
		return nil
	}
	enabled, err := p.opts.Settings.MCPEnabled(ctx, chatID)
	if err != nil {
		logger.Warn("failed to read tool setting, leaving tools off", log.Error(err))
		return nil
	}
	if !enabled {
		return nil
	}
	tools, err := p.opts.Tools.LLMTools(ctx)
	if err != nil {
		logger.Error("tool discovery failed, continuing without tools", log.Error(err))
		return nil
	}
	logger.Info("tools available", slog.Int("count", len(tools)))
	return tools
}

// noTools rejects every call; models occasionally request tools that were
// never offered.
type noTools struct{}

func (noTools) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return "", fmt.Errorf("tools are not available")
}
