// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package cookietest

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	rejected *prometheus.CounterVec
	flushes  prometheus.Counter
	cookies  prometheus.Gauge
}

// newMetrics registers with r, or creates unregistered metrics if r is nil.
// Stores sharing a registerer share its collectors, so the counters and the
// cookie gauge add up over all of them.
func newMetrics(r prometheus.Registerer) *metrics {
	return &metrics{
		requests: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cefcookie",
			Subsystem: "store",
			Name:      "requests_total",
			Help:      "Accepted cookie manager requests, by operation.",
		}, []string{"op"})),
		rejected: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cefcookie",
			Subsystem: "store",
			Name:      "rejected_total",
			Help:      "Cookie manager requests rejected synchronously, by operation.",
		}, []string{"op"})),
		flushes: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cefcookie",
			Subsystem: "store",
			Name:      "flushes_total",
			Help:      "Writes of the cookie database.",
		})),
		cookies: register(r, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cefcookie",
			Subsystem: "store",
			Name:      "cookies",
			Help:      "Cookies currently held by the stores.",
		})),
	}
}

// register adds c to r and returns it, or returns the collector r already
// holds under the same description.
func register[C prometheus.Collector](r prometheus.Registerer, c C) C {
	if r == nil {
		return c
	}
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
