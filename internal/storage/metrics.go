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

package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_storage_operation_duration_seconds",
			Help:    "Blob store operation latency by backend and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	operationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_storage_errors_total",
			Help: "Failed blob store operations by backend and operation",
		},
		[]string{"backend", "op"},
	)
)

func recordOperation(backend, op string, elapsed time.Duration, err error) {
	operationDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
	if err != nil {
		operationErrors.WithLabelValues(backend, op).Inc()
	}
}
