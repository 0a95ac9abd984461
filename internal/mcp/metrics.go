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

package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// toolCalls counts tool dispatches by outcome
	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_mcp_tool_calls_total",
			Help: "Total tool calls by server, tool and status",
		},
		[]string{"server", "tool", "status"},
	)

	// toolCallDuration tracks dispatch latency
	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_mcp_tool_call_duration_seconds",
			Help:    "Tool call duration by server",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"server"},
	)

	// activeConnections tracks live tool server connections
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_mcp_active_connections",
			Help: "Number of live tool server connections",
		},
	)

	// discoveryErrors counts failed tool discovery calls
	discoveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_mcp_discovery_errors_total",
			Help: "Total tool discovery failures by server",
		},
		[]string{"server"},
	)

	// cacheLookups counts tool cache lookups
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_mcp_cache_lookups_total",
			Help: "Tool cache lookups by result (hit, miss, stale)",
		},
		[]string{"result"},
	)
)

// recordToolCall records one dispatch outcome
func recordToolCall(server, tool, status string, elapsed time.Duration) {
	toolCalls.WithLabelValues(server, tool, status).Inc()
	toolCallDuration.WithLabelValues(server).Observe(elapsed.Seconds())
}

func recordDiscoveryError(server string) {
	discoveryErrors.WithLabelValues(server).Inc()
}

func recordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}
