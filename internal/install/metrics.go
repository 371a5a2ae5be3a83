// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package install

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation label values.
const (
	OpInstall   = "install"
	OpUninstall = "uninstall"
	OpLink      = "link"
	OpUnlink    = "unlink"
)

// Operations counts install manager operations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cyrene_install_operations_total",
		Help: "Total number of install manager operations",
	},
	[]string{"operation", "status"},
)

// RegisterMetrics registers install metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Operations)
}

func observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	Operations.WithLabelValues(op, status).Inc()
}
