package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/routeguard/routeguard/internal/observability"
)

const redactedValue = "[REDACTED]"

// Logger writes audit events.
type Logger interface {
	// LogEvent writes an audit event. Write failures are logged, never
	// returned: audit is fail-open.
	LogEvent(ctx context.Context, event *Event)

	// Close closes the logger.
	Close() error
}

// Config contains audit logger configuration.
type Config struct {
	// Enabled toggles audit logging.
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output"`

	// RedactFields lists metadata keys to redact, matched
	// case-insensitively.
	RedactFields []string `yaml:"redactFields"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		Output:       "stdout",
		RedactFields: []string{"authorization", "cookie", "password", "token", "secret"},
	}
}

// logger implements the Logger interface writing JSON lines.
type logger struct {
	config  *Config
	writer  io.Writer
	closer  io.Closer
	mu      sync.Mutex
	logger  observability.Logger
	metrics *Metrics
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the observability logger.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = metrics
	}
}

// WithLoggerWriter sets the writer.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = writer
	}
}

// NewLogger creates a new audit logger.
func NewLogger(config *Config, opts ...LoggerOption) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	l := &logger{
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.writer == nil {
		writer, closer, err := l.createWriter()
		if err != nil {
			return nil, err
		}
		l.writer = writer
		l.closer = closer
	}

	return l, nil
}

// createWriter opens the configured output.
func (l *logger) createWriter() (io.Writer, io.Closer, error) {
	switch l.config.Output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		file, err := os.OpenFile(l.config.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// LogEvent implements Logger.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if !l.config.Enabled || event == nil {
		return
	}

	if event.TraceID == "" {
		event.TraceID = extractTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = extractSpanID(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = observability.RequestIDFromContext(ctx)
	}

	l.redactEvent(event)

	l.metrics.RecordEvent(event.Type, event.Outcome)

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to encode audit event", observability.Error(err))
		return
	}

	l.mu.Lock()
	_, err = l.writer.Write(append(data, '\n'))
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

// redactEvent removes sensitive metadata values.
func (l *logger) redactEvent(event *Event) {
	if len(l.config.RedactFields) == 0 || event.Metadata == nil {
		return
	}

	for key := range event.Metadata {
		if l.shouldRedact(key) {
			event.Metadata[key] = redactedValue
		}
	}
}

// shouldRedact checks a key against the redaction list.
func (l *logger) shouldRedact(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range l.config.RedactFields {
		if strings.Contains(lower, strings.ToLower(field)) {
			return true
		}
	}
	return false
}

// Close implements Logger.
func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// extractTraceID extracts the trace ID from the span context.
func extractTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// extractSpanID extracts the span ID from the span context.
func extractSpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) LogEvent(context.Context, *Event) {}
func (n *nopLogger) Close() error                     { return nil }

// Ensure implementations satisfy Logger.
var (
	_ Logger = (*logger)(nil)
	_ Logger = (*nopLogger)(nil)
)
