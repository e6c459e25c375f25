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

package reconciler

import "github.com/prometheus/client_golang/prometheus"

const (
	// MetricReconcileTotal counts structural reconcile passes by container
	// kind.
	MetricReconcileTotal = "loom_reconciler_reconcile_total"
	// MetricRemoteBatches counts observed foreign-origin event batches.
	MetricRemoteBatches = "loom_reconciler_remote_batches_total"
	// MetricDeltasApplied counts granular list deltas applied directly.
	MetricDeltasApplied = "loom_reconciler_deltas_applied_total"
)

var (
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricReconcileTotal,
			Help: "Total number of structural reconcile passes by container kind",
		},
		[]string{"kind"},
	)

	remoteBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: MetricRemoteBatches,
			Help: "Total number of foreign-origin event batches reconciled",
		},
	)

	deltasApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: MetricDeltasApplied,
			Help: "Total number of granular list deltas applied to controllers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		reconcileTotal,
		remoteBatches,
		deltasApplied,
	)
}
