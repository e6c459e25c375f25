// Copyright 2025 The Loom Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package scheduler

import "github.com/prometheus/client_golang/prometheus"

const (
	// MetricFlushTotal counts scheduler flushes by outcome.
	MetricFlushTotal = "loom_scheduler_flush_total"
	// MetricFlushDuration tracks the duration of a flush including the
	// shared-document transaction and post callbacks.
	MetricFlushDuration = "loom_scheduler_flush_duration_seconds"
	// MetricOpsEnqueued counts enqueued operations by kind.
	MetricOpsEnqueued = "loom_scheduler_ops_enqueued_total"
	// MetricMergeActions counts batch rewrites performed by the temporal
	// merge pipeline.
	MetricMergeActions = "loom_scheduler_merge_actions_total"
)

var (
	flushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricFlushTotal,
			Help: "Total number of write scheduler flushes by outcome",
		},
		[]string{"outcome"},
	)

	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricFlushDuration,
			Help:    "Duration of write scheduler flushes",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1},
		},
	)

	opsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricOpsEnqueued,
			Help: "Total number of operations enqueued by kind",
		},
		[]string{"kind"},
	)

	mergeActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricMergeActions,
			Help: "Total number of batch rewrites by the temporal merge pipeline",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		flushTotal,
		flushDuration,
		opsEnqueued,
		mergeActions,
	)
}
