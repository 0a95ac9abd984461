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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/relay/pkg/llm"
)

type stubProvider struct {
	resp *llm.CompletionResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return s.resp, s.err
}

func newInstrumented(t *testing.T, p llm.Provider) (*TracedProvider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return NewTracedProvider(p, tp, mp), sr, reader
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracedProvider_Success(t *testing.T) {
	stub := &stubProvider{resp: &llm.CompletionResponse{
		Content:      "hi",
		Model:        "gpt-4o-mini",
		FinishReason: llm.FinishReasonStop,
		Usage:        llm.TokenUsage{InputTokens: 12, OutputTokens: 3, TotalTokens: 15},
	}}
	traced, sr, reader := newInstrumented(t, stub)

	assert.Equal(t, "stub", traced.Name())

	ctx := ToContext(context.Background(), NewCorrelationID())
	resp, err := traced.Complete(ctx, llm.CompletionRequest{Model: "gpt-4o-mini", MaxTokens: llm.IntPtr(64)})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "llm.complete", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)

	v, ok := spanAttr(span, "llm.usage.total_tokens")
	require.True(t, ok)
	assert.Equal(t, int64(15), v.AsInt64())
	_, ok = spanAttr(span, "relay.correlation_id")
	assert.True(t, ok)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	var sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "relay.llm.tokens":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			case "relay.llm.request.duration":
				sawDuration = true
			}
		}
	}
	assert.Equal(t, int64(15), total)
	assert.True(t, sawDuration)
}

func TestTracedProvider_Error(t *testing.T) {
	stub := &stubProvider{err: errors.New("upstream down")}
	traced, sr, _ := newInstrumented(t, stub)

	_, err := traced.Complete(context.Background(), llm.CompletionRequest{Model: "m"})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "upstream down", spans[0].Status().Description)
}
