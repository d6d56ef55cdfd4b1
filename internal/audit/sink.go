package audit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/routeguard/routeguard/internal/guard"
	"github.com/routeguard/routeguard/internal/lockout"
	"github.com/routeguard/routeguard/internal/observability"
)

// Default sink settings.
const (
	// DefaultWriteTimeout bounds a single sink write.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultBreakerThreshold is the request count before the failure ratio
	// can trip the breaker.
	DefaultBreakerThreshold = 5

	// DefaultBreakerTimeout is how long the breaker stays open.
	DefaultBreakerTimeout = 30 * time.Second
)

// Writer persists audit events durably. Implementations may block; the sink
// bounds every call.
type Writer interface {
	Write(ctx context.Context, event *Event) error
}

// WriterFunc adapts a function to the Writer interface.
type WriterFunc func(ctx context.Context, event *Event) error

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// SinkConfig contains sink configuration.
type SinkConfig struct {
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// BreakerThreshold is the request count before the failure ratio can
	// trip the breaker.
	BreakerThreshold int `yaml:"breakerThreshold"`

	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration `yaml:"breakerTimeout"`
}

// DefaultSinkConfig returns the default sink configuration.
func DefaultSinkConfig() *SinkConfig {
	return &SinkConfig{
		WriteTimeout:     DefaultWriteTimeout,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerTimeout:   DefaultBreakerTimeout,
	}
}

// Sink forwards events to the audit logger and a durable writer. Writer
// calls carry a bounded timeout behind a circuit breaker and fail open: a
// slow or broken store never blocks the request pipeline.
type Sink struct {
	config  *SinkConfig
	logger  Logger
	writer  Writer
	breaker *gobreaker.CircuitBreaker
	log     observability.Logger
	metrics *Metrics
}

// SinkOption is a functional option for the sink.
type SinkOption func(*Sink)

// WithSinkLogger sets the observability logger.
func WithSinkLogger(log observability.Logger) SinkOption {
	return func(s *Sink) {
		s.log = log
	}
}

// WithSinkMetrics sets the metrics.
func WithSinkMetrics(metrics *Metrics) SinkOption {
	return func(s *Sink) {
		s.metrics = metrics
	}
}

// WithSinkWriter sets the durable writer.
func WithSinkWriter(writer Writer) SinkOption {
	return func(s *Sink) {
		s.writer = writer
	}
}

// NewSink creates a new audit sink.
func NewSink(config *SinkConfig, auditLogger Logger, opts ...SinkOption) *Sink {
	if config == nil {
		config = DefaultSinkConfig()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = DefaultBreakerThreshold
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = DefaultBreakerTimeout
	}
	if auditLogger == nil {
		auditLogger = NopLogger()
	}

	s := &Sink{
		config: config,
		logger: auditLogger,
		log:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	threshold := uint32(config.BreakerThreshold)
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "audit-sink",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("audit sink breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return s
}

// Record logs the event and forwards it to the durable writer, fail-open.
func (s *Sink) Record(ctx context.Context, event *Event) {
	s.logger.LogEvent(ctx, event)

	if s.writer == nil {
		return
	}

	// The write uses a detached context: a caller abort must not cancel
	// accounting already in flight.
	_, err := s.breaker.Execute(func() (interface{}, error) {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.WriteTimeout)
		defer cancel()
		return nil, s.writer.Write(writeCtx, event)
	})
	if err != nil {
		s.metrics.RecordSinkFailure()
		s.log.Warn("audit sink write failed",
			observability.String("event_id", event.ID),
			observability.Error(err),
		)
	}
}

// RecordDecision implements the pipeline decision audit hook.
func (s *Sink) RecordDecision(ctx context.Context, entry *guard.DecisionEntry) {
	outcome := OutcomeDenied
	if entry.Allowed {
		outcome = OutcomeAllowed
	}

	event := NewEvent(EventTypeDecision, outcome).
		WithRequestID(entry.RequestID).
		WithReason(string(entry.Code)).
		WithSubject(&Subject{
			UserID:    entry.UserID,
			IPAddress: entry.IPAddress,
			UserAgent: entry.UserAgent,
		}).
		WithResource(&Resource{
			Method: entry.Method,
			Path:   entry.Path,
		})

	s.Record(ctx, event)
}

// RecordViolation implements the lockout violation audit hook.
func (s *Sink) RecordViolation(ctx context.Context, violation *lockout.Violation) {
	event := NewEvent(EventTypeViolation, OutcomeInfo).
		WithReason(string(violation.Type)).
		WithSubject(&Subject{
			UserID:    violation.UserID,
			IPAddress: violation.IPAddress,
			UserAgent: violation.UserAgent,
		}).
		WithMetadata("violation_id", violation.ID).
		WithMetadata("severity", string(violation.Severity))

	s.Record(ctx, event)
}

// Ensure the sink satisfies the pipeline hooks.
var (
	_ guard.Auditor         = (*Sink)(nil)
	_ lockout.ViolationSink = (*Sink)(nil)
)
