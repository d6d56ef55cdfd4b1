package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains session manager metrics.
type Metrics struct {
	createdTotal     prometheus.Counter
	terminatedTotal  prometheus.Counter
	refreshesTotal   prometheus.Counter
	validationsTotal *prometheus.CounterVec
	riskTotal        *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// NewMetrics creates new session metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new session metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "routeguard"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		createdTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "created_total",
				Help:      "Total number of sessions created",
			},
		),
		terminatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "terminated_total",
				Help:      "Total number of sessions terminated",
			},
		),
		refreshesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "refreshes_total",
				Help:      "Total number of access token refreshes",
			},
		),
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "validations_total",
				Help:      "Total number of session validations by outcome",
			},
			[]string{"outcome"},
		),
		riskTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "risk_total",
				Help:      "Total number of validations by risk level",
			},
			[]string{"level"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "active",
				Help:      "Number of live sessions",
			},
		),
	}

	// Ignore duplicate registration errors, descriptors are identical.
	_ = registerer.Register(m.createdTotal)
	_ = registerer.Register(m.terminatedTotal)
	_ = registerer.Register(m.refreshesTotal)
	_ = registerer.Register(m.validationsTotal)
	_ = registerer.Register(m.riskTotal)
	_ = registerer.Register(m.activeSessions)

	return m
}

// RecordCreated records a session creation.
func (m *Metrics) RecordCreated() {
	if m == nil || m.createdTotal == nil {
		return
	}
	m.createdTotal.Inc()
}

// RecordTerminated records a session termination.
func (m *Metrics) RecordTerminated() {
	if m == nil || m.terminatedTotal == nil {
		return
	}
	m.terminatedTotal.Inc()
}

// RecordRefresh records an access token refresh.
func (m *Metrics) RecordRefresh() {
	if m == nil || m.refreshesTotal == nil {
		return
	}
	m.refreshesTotal.Inc()
}

// RecordValidation records a validation outcome.
func (m *Metrics) RecordValidation(outcome string) {
	if m == nil || m.validationsTotal == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.validationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRisk records a validation risk level.
func (m *Metrics) RecordRisk(level string) {
	if m == nil || m.riskTotal == nil {
		return
	}
	m.riskTotal.WithLabelValues(level).Inc()
}

// SetActive sets the live session gauge.
func (m *Metrics) SetActive(n int) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
