package ratelimit

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains rate limiter metrics.
type Metrics struct {
	checksTotal        *prometheus.CounterVec
	storeFailuresTotal prometheus.Counter
}

// NewMetrics creates new rate limiter metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new rate limiter metrics registered with
// the provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "routeguard"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "checks_total",
				Help:      "Total number of rate limit checks",
			},
			[]string{"category", "allowed"},
		),
		storeFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "store_failures_total",
				Help:      "Total number of counter store failures (failed open)",
			},
		),
	}

	// Ignore duplicate registration errors, descriptors are identical.
	_ = registerer.Register(m.checksTotal)
	_ = registerer.Register(m.storeFailuresTotal)

	return m
}

// RecordCheck records a rate limit check outcome.
func (m *Metrics) RecordCheck(category string, allowed bool) {
	if m == nil || m.checksTotal == nil {
		return
	}
	m.checksTotal.WithLabelValues(category, strconv.FormatBool(allowed)).Inc()
}

// RecordStoreFailure records a counter store failure.
func (m *Metrics) RecordStoreFailure() {
	if m == nil || m.storeFailuresTotal == nil {
		return
	}
	m.storeFailuresTotal.Inc()
}
