// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status label values for hook metrics.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusUnsupported = "unsupported"
)

// HookInvocations counts plugin hook calls.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookInvocations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cyrene_plugin_hook_invocations_total",
		Help: "Total number of plugin hook invocations",
	},
	[]string{"plugin", "hook", "status"},
)

// HookDuration observes plugin hook run time.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "cyrene_plugin_hook_duration_seconds",
		Help:    "Plugin hook duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	},
	[]string{"plugin", "hook"},
)

// RegisterMetrics registers plugin metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HookInvocations)
	reg.MustRegister(HookDuration)
}
