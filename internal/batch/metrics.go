// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TargetsTotal counts settled batch targets by operation and final state.
// Use RegisterMetrics to register this with a Prometheus registry.
var TargetsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cyrene_batch_targets_total",
		Help: "Total number of batch targets by final state",
	},
	[]string{"operation", "state"},
)

// RegisterMetrics registers batch metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TargetsTotal)
}
