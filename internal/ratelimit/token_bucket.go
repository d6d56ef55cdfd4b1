package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/routeguard/routeguard/internal/observability"
)

// bucketTTL bounds how long an idle per-key bucket is kept before the
// cleanup pass reclaims it.
const bucketTTL = 10 * time.Minute

// TokenBucketLimiter implements the token bucket algorithm using
// golang.org/x/time/rate, one bucket per key. Tokens refill continuously at
// the configured rate; bursts up to the bucket size are absorbed.
type TokenBucketLimiter struct {
	limit  int
	window time.Duration
	burst  int
	logger observability.Logger

	mu      sync.Mutex
	buckets map[string]*bucketEntry
}

// bucketEntry holds a limiter and its last access time for cleanup.
type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewTokenBucketLimiter creates a new token bucket rate limiter.
func NewTokenBucketLimiter(cfg *Config, logger observability.Logger) *TokenBucketLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.MaxRequests
	}

	return &TokenBucketLimiter{
		limit:   cfg.MaxRequests,
		window:  cfg.Window,
		burst:   burst,
		logger:  logger,
		buckets: make(map[string]*bucketEntry),
	}
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	bucket := l.getBucket(key)

	allowed := bucket.AllowN(time.Now(), n)

	remaining := int(bucket.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed {
		// Time for one token to refill.
		retryAfter = time.Duration(float64(time.Second) / float64(bucket.Limit()))
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: l.window,
		RetryAfter: retryAfter,
		TotalHits:  l.limit - remaining,
	}, nil
}

// RecordSuccess implements Limiter. Token buckets refill continuously, so
// per-outcome accounting does not apply.
func (l *TokenBucketLimiter) RecordSuccess(ctx context.Context, key string) {}

// RecordFailure implements Limiter.
func (l *TokenBucketLimiter) RecordFailure(ctx context.Context, key string) {}

// GetLimit implements Limiter.
func (l *TokenBucketLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: l.limit,
		Window:   l.window,
		Burst:    l.burst,
	}
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	return nil
}

// Cleanup removes buckets that have not been used within the TTL.
func (l *TokenBucketLimiter) Cleanup() {
	cutoff := time.Now().Add(-bucketTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.buckets {
		if entry.lastAccess.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

func (l *TokenBucketLimiter) getBucket(key string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(l.limit) / l.window.Seconds())
		entry = &bucketEntry{
			limiter: rate.NewLimiter(perSecond, l.burst),
		}
		l.buckets[key] = entry
	}
	entry.lastAccess = now

	return entry.limiter
}

// Ensure TokenBucketLimiter implements Limiter.
var _ Limiter = (*TokenBucketLimiter)(nil)
