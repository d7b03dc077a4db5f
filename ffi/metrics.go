// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package ffi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// registry holds the package's metrics apart from the default registerer so
// that embedding applications decide where they are exposed.
var registry = prometheus.NewRegistry()

var (
	calls = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "cefcookie",
		Subsystem: "ffi",
		Name:      "calls_total",
		Help:      "Calls made through engine function pointers, by operation.",
	}, []string{"op"})

	refOps = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "cefcookie",
		Subsystem: "ffi",
		Name:      "refs_total",
		Help:      "Reference count operations, by object type and operation.",
	}, []string{"type", "op"})

	exportedObjects = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "cefcookie",
		Subsystem: "ffi",
		Name:      "exported_objects",
		Help:      "Go-implemented objects currently referenced from C.",
	})
)

func observeCall(op string) {
	calls.WithLabelValues(op).Inc()
}

var _ prometheus.Gatherer = (*Gatherer)(nil)

// Gatherer exposes the package's metrics.
type Gatherer struct{}

// Gather implements prometheus.Gatherer.
func (Gatherer) Gather() ([]*dto.MetricFamily, error) {
	return registry.Gather()
}

// Registerer returns the registerer the package's metrics live in, so that
// related components can report alongside them.
func Registerer() prometheus.Registerer {
	return registry
}

// MetricsHandler serves the package's metrics in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
