package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/routeguard/routeguard/internal/observability"
)

// SlidingWindowLimiter implements the sliding window rate limiting algorithm
// with per-key request timestamps. It is more accurate than fixed window at
// window boundaries but keeps its state in process memory, so it is a
// single-process strategy.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration
	logger observability.Logger

	windows sync.Map

	skipSuccessful bool
	skipFailed     bool
}

// windowState holds the request timestamps for one key.
type windowState struct {
	requests []time.Time
	mu       sync.Mutex
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(cfg *Config, logger observability.Logger) *SlidingWindowLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &SlidingWindowLimiter{
		limit:          cfg.MaxRequests,
		window:         cfg.Window,
		logger:         logger,
		skipSuccessful: cfg.SkipSuccessfulRequests,
		skipFailed:     cfg.SkipFailedRequests,
	}
}

// Allow implements Limiter.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *SlidingWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	ws := l.getOrCreateWindowState(key)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	l.dropExpired(ws, now)

	// Count the attempt before comparing so racing requests are all counted.
	for i := 0; i < n; i++ {
		ws.requests = append(ws.requests, now)
	}
	currentCount := len(ws.requests)
	allowed := currentCount <= l.limit

	remaining := l.limit - currentCount
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := l.window
	if len(ws.requests) > 0 {
		resetAfter = ws.requests[0].Add(l.window).Sub(now)
		if resetAfter < 0 {
			resetAfter = 0
		}
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
		TotalHits:  currentCount,
	}, nil
}

// RecordSuccess implements Limiter.
func (l *SlidingWindowLimiter) RecordSuccess(ctx context.Context, key string) {
	if !l.skipSuccessful {
		return
	}
	l.dropOne(key)
}

// RecordFailure implements Limiter.
func (l *SlidingWindowLimiter) RecordFailure(ctx context.Context, key string) {
	if !l.skipFailed {
		return
	}
	l.dropOne(key)
}

func (l *SlidingWindowLimiter) dropOne(key string) {
	value, ok := l.windows.Load(key)
	if !ok {
		return
	}
	ws := value.(*windowState)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if len(ws.requests) > 0 {
		ws.requests = ws.requests[:len(ws.requests)-1]
	}
}

// GetLimit implements Limiter.
func (l *SlidingWindowLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: l.limit,
		Window:   l.window,
		Burst:    l.limit,
	}
}

// Reset implements Limiter.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	l.windows.Delete(key)
	return nil
}

// Cleanup removes keys whose every timestamp has left the window.
func (l *SlidingWindowLimiter) Cleanup() {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.windows.Range(func(key, value interface{}) bool {
		ws := value.(*windowState)
		ws.mu.Lock()
		stale := len(ws.requests) == 0 || !ws.requests[len(ws.requests)-1].After(cutoff)
		ws.mu.Unlock()
		if stale {
			l.windows.Delete(key)
		}
		return true
	})
}

func (l *SlidingWindowLimiter) getOrCreateWindowState(key string) *windowState {
	value, _ := l.windows.LoadOrStore(key, &windowState{
		requests: make([]time.Time, 0),
	})
	return value.(*windowState)
}

func (l *SlidingWindowLimiter) dropExpired(ws *windowState, now time.Time) {
	windowStart := now.Add(-l.window)
	valid := ws.requests[:0]
	for _, t := range ws.requests {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	ws.requests = valid
}

// Ensure SlidingWindowLimiter implements Limiter.
var _ Limiter = (*SlidingWindowLimiter)(nil)
