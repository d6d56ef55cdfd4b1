package lockout

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains lockout manager metrics.
type Metrics struct {
	violationsTotal *prometheus.CounterVec
	lockoutsTotal   prometheus.Counter
	unlocksTotal    prometheus.Counter
}

// NewMetrics creates new lockout metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new lockout metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "routeguard"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lockout",
				Name:      "violations_total",
				Help:      "Total number of recorded security violations",
			},
			[]string{"type", "severity"},
		),
		lockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lockout",
				Name:      "lockouts_total",
				Help:      "Total number of account lockouts",
			},
		),
		unlocksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lockout",
				Name:      "unlocks_total",
				Help:      "Total number of explicit account unlocks",
			},
		),
	}

	// Ignore duplicate registration errors, descriptors are identical.
	_ = registerer.Register(m.violationsTotal)
	_ = registerer.Register(m.lockoutsTotal)
	_ = registerer.Register(m.unlocksTotal)

	return m
}

// RecordViolation records a violation by type and severity.
func (m *Metrics) RecordViolation(vtype, severity string) {
	if m == nil || m.violationsTotal == nil {
		return
	}
	m.violationsTotal.WithLabelValues(vtype, severity).Inc()
}

// RecordLockout records an account lockout.
func (m *Metrics) RecordLockout() {
	if m == nil || m.lockoutsTotal == nil {
		return
	}
	m.lockoutsTotal.Inc()
}

// RecordUnlock records an explicit unlock.
func (m *Metrics) RecordUnlock() {
	if m == nil || m.unlocksTotal == nil {
		return
	}
	m.unlocksTotal.Inc()
}
