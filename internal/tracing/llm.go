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

package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/relay/pkg/llm"
)

const instrumentationName = "github.com/tombee/relay/internal/tracing"

// TracedProvider wraps an LLM provider and records a span, token counts and
// latency for every Complete call.
type TracedProvider struct {
	provider llm.Provider
	tracer   trace.Tracer

	tokens   metric.Int64Counter
	duration metric.Float64Histogram
}

// WrapProvider instruments provider with the global OTel providers.
func WrapProvider(provider llm.Provider) llm.Provider {
	return NewTracedProvider(provider, otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewTracedProvider instruments provider with explicit OTel providers.
func NewTracedProvider(provider llm.Provider, tp trace.TracerProvider, mp metric.MeterProvider) *TracedProvider {
	meter := mp.Meter(instrumentationName)

	// Instrument creation only fails on invalid names; the no-op fallbacks
	// returned alongside the error are still usable.
	tokens, _ := meter.Int64Counter("relay.llm.tokens",
		metric.WithDescription("Tokens consumed by LLM completions"),
		metric.WithUnit("{token}"),
	)
	duration, _ := meter.Float64Histogram("relay.llm.request.duration",
		metric.WithDescription("LLM completion latency"),
		metric.WithUnit("s"),
	)

	return &TracedProvider{
		provider: provider,
		tracer:   tp.Tracer(instrumentationName),
		tokens:   tokens,
		duration: duration,
	}
}

// Name returns the underlying provider's name.
func (t *TracedProvider) Name() string {
	return t.provider.Name()
}

// Complete creates a span for the completion request and records token usage.
func (t *TracedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", t.provider.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.request.messages", len(req.Messages)),
		attribute.Int("llm.request.tools", len(req.Tools)),
	}
	if req.MaxTokens != nil {
		attrs = append(attrs, attribute.Int("llm.max_tokens", *req.MaxTokens))
	}
	if id := FromContextOrEmpty(ctx); id != "" {
		attrs = append(attrs, attribute.String("relay.correlation_id", id.String()))
	}
	for k, v := range req.Metadata {
		attrs = append(attrs, attribute.String("llm.metadata."+k, v))
	}

	ctx, span := t.tracer.Start(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	resp, err := t.provider.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.duration.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("model", req.Model),
			attribute.String("status", "error"),
		))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("llm.response.model", resp.Model),
		attribute.String("llm.response.finish_reason", string(resp.FinishReason)),
		attribute.String("llm.response.request_id", resp.RequestID),
		attribute.Int("llm.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
		attribute.Int("llm.response.tool_calls_count", len(resp.ToolCalls)),
	)
	span.SetStatus(codes.Ok, "")

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	t.duration.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", "success"),
	))
	t.tokens.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("direction", "input"),
	))
	t.tokens.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("direction", "output"),
	))

	return resp, nil
}
