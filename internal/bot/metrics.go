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

package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bot_messages_total",
			Help: "Processed chat messages by outcome",
		},
		[]string{"outcome"},
	)

	processingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_bot_processing_duration_seconds",
			Help:    "End-to-end message processing latency",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	toolIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_bot_tool_iterations",
			Help:    "Tool loop rounds per message that used tools",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)

	badRequestRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bot_bad_request_retries_total",
			Help: "Completions resent with a cleared history after a bad-request rejection",
		},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bot_commands_total",
			Help: "Slash commands handled by name",
		},
		[]string{"command"},
	)
)

const (
	outcomeOK          = "ok"
	outcomeRateLimited = "rate_limited"
	outcomeApology     = "apology"
	outcomeError       = "error"
)
