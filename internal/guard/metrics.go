package guard

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains protection pipeline metrics.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
}

// NewMetrics creates new pipeline metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new pipeline metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "routeguard"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "decisions_total",
				Help:      "Total number of pipeline decisions",
			},
			[]string{"route", "allowed", "code"},
		),
	}

	// Ignore duplicate registration errors, descriptors are identical.
	_ = registerer.Register(m.decisionsTotal)

	return m
}

// RecordDecision records a pipeline decision.
func (m *Metrics) RecordDecision(route string, allowed bool, code string) {
	if m == nil || m.decisionsTotal == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(route, strconv.FormatBool(allowed), code).Inc()
}
