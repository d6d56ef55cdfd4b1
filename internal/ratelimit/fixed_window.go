package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/store"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm on
// top of a shared counter store. The counter is incremented before the limit
// comparison so concurrent same-tick requests are all counted; over-counting
// is acceptable, under-counting is not.
//
// Counter-store failures fail open: the request proceeds and the failure is
// logged and counted.
type FixedWindowLimiter struct {
	store   store.Store
	limit   int
	window  time.Duration
	prefix  string
	logger  observability.Logger
	metrics *Metrics

	skipSuccessful bool
	skipFailed     bool
}

// FixedWindowOption is a functional option for the limiter.
type FixedWindowOption func(*FixedWindowLimiter)

// WithFixedWindowLogger sets the logger.
func WithFixedWindowLogger(logger observability.Logger) FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// WithFixedWindowMetrics sets the metrics.
func WithFixedWindowMetrics(metrics *Metrics) FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		l.metrics = metrics
	}
}

// NewFixedWindowLimiter creates a new fixed window rate limiter backed by
// the given store.
func NewFixedWindowLimiter(s store.Store, cfg *Config, opts ...FixedWindowOption) *FixedWindowLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &FixedWindowLimiter{
		store:          s,
		limit:          cfg.MaxRequests,
		window:         cfg.Window,
		prefix:         cfg.KeyPrefix,
		logger:         observability.NopLogger(),
		skipSuccessful: cfg.SkipSuccessfulRequests,
		skipFailed:     cfg.SkipFailedRequests,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.metrics == nil {
		l.metrics = NewMetrics("routeguard")
	}

	return l
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.getWindowStart(now)
	windowKey := l.windowKey(key, windowStart)

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	// Increment first so every concurrent request is counted, then compare.
	expiration := l.window + time.Second // buffer for clock skew
	count, err := l.store.IncrementWithExpiry(ctx, windowKey, int64(n), expiration)
	if err != nil {
		// Fail open: never block a request on counter-store unavailability.
		l.logger.Warn("rate limit store unavailable, failing open",
			observability.String("key", key),
			observability.Error(err),
		)
		l.metrics.RecordStoreFailure()
		return &Result{
			Allowed:    true,
			Limit:      l.limit,
			Remaining:  l.limit,
			ResetAfter: resetAfter,
		}, nil
	}

	allowed := int(count) <= l.limit

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	l.metrics.RecordCheck(l.prefix, allowed)

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
		TotalHits:  int(count),
	}, nil
}

// RecordSuccess implements Limiter. When successful requests are skipped,
// the counter is decremented so only failures accumulate.
func (l *FixedWindowLimiter) RecordSuccess(ctx context.Context, key string) {
	if !l.skipSuccessful {
		return
	}
	l.decrement(ctx, key)
}

// RecordFailure implements Limiter.
func (l *FixedWindowLimiter) RecordFailure(ctx context.Context, key string) {
	if !l.skipFailed {
		return
	}
	l.decrement(ctx, key)
}

func (l *FixedWindowLimiter) decrement(ctx context.Context, key string) {
	windowKey := l.windowKey(key, l.getWindowStart(time.Now()))
	if _, err := l.store.Increment(ctx, windowKey, -1); err != nil {
		l.logger.Warn("failed to adjust rate limit counter",
			observability.String("key", key),
			observability.Error(err),
		)
	}
}

// GetLimit implements Limiter.
func (l *FixedWindowLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: l.limit,
		Window:   l.window,
		Burst:    l.limit,
	}
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	windowKey := l.windowKey(key, l.getWindowStart(time.Now()))
	if err := l.store.Delete(ctx, windowKey); err != nil {
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}

// getWindowStart returns the start time of the current window.
func (l *FixedWindowLimiter) getWindowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// windowKey builds the per-window counter key, namespaced by the limiter's
// prefix so independent limiters never share counters.
func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:fw:%d", l.prefix, key, windowStart.UnixNano())
}

// Ensure FixedWindowLimiter implements Limiter.
var _ Limiter = (*FixedWindowLimiter)(nil)
