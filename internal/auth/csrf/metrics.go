package csrf

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains CSRF manager metrics.
type Metrics struct {
	generatedTotal   prometheus.Counter
	validationsTotal *prometheus.CounterVec
}

// NewMetrics creates new CSRF metrics registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new CSRF metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "routeguard"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		generatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "csrf",
				Name:      "tokens_generated_total",
				Help:      "Total number of CSRF tokens issued",
			},
		),
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "csrf",
				Name:      "validations_total",
				Help:      "Total number of CSRF token validations",
			},
			[]string{"valid"},
		),
	}

	// Ignore duplicate registration errors, descriptors are identical.
	_ = registerer.Register(m.generatedTotal)
	_ = registerer.Register(m.validationsTotal)

	return m
}

// RecordGenerated records a token issuance.
func (m *Metrics) RecordGenerated() {
	if m == nil || m.generatedTotal == nil {
		return
	}
	m.generatedTotal.Inc()
}

// RecordValidation records a validation outcome.
func (m *Metrics) RecordValidation(valid bool) {
	if m == nil || m.validationsTotal == nil {
		return
	}
	m.validationsTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
}
