// Package ratelimit bounds request rates per identifier per time window.
// It supports fixed window (the default), sliding window, and token bucket
// strategies, each behind the Limiter interface.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN checks if n requests are allowed for the given key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// RecordSuccess adjusts accounting for a request that completed
	// successfully, per the limiter's configuration.
	RecordSuccess(ctx context.Context, key string)

	// RecordFailure adjusts accounting for a request that failed,
	// per the limiter's configuration.
	RecordFailure(ctx context.Context, key string)

	// GetLimit returns the limit configuration for the given key.
	GetLimit(key string) *Limit

	// Reset resets the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}

// Limit represents rate limit configuration.
type Limit struct {
	// Requests is the maximum number of requests allowed in the window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration

	// Burst is the maximum burst size (for token bucket strategy).
	Burst int
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration

	// TotalHits is the total number of requests counted in the current window.
	TotalHits int
}

// Strategy represents the rate limiting strategy.
type Strategy string

const (
	// StrategyFixedWindow uses the fixed window algorithm.
	StrategyFixedWindow Strategy = "fixed_window"

	// StrategySlidingWindow uses the sliding window algorithm.
	StrategySlidingWindow Strategy = "sliding_window"

	// StrategyTokenBucket uses the token bucket algorithm.
	StrategyTokenBucket Strategy = "token_bucket"
)

// Config holds configuration for creating a rate limiter.
type Config struct {
	// Strategy is the rate limiting strategy to use.
	Strategy Strategy

	// MaxRequests is the maximum number of requests allowed in the window.
	MaxRequests int

	// Window is the time window for the rate limit.
	Window time.Duration

	// Burst is the maximum burst size (for token bucket strategy).
	Burst int

	// KeyPrefix namespaces this limiter's keys so independent limiter
	// instances never share counters.
	KeyPrefix string

	// SkipSuccessfulRequests uncounts requests that complete successfully,
	// so only failures accumulate toward the limit.
	SkipSuccessfulRequests bool

	// SkipFailedRequests uncounts requests that fail.
	SkipFailedRequests bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Strategy:    StrategyFixedWindow,
		MaxRequests: 100,
		Window:      time.Minute,
		Burst:       10,
	}
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// AllowN implements Limiter.
func (l *NoopLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	return l.Allow(ctx, key)
}

// RecordSuccess implements Limiter.
func (l *NoopLimiter) RecordSuccess(ctx context.Context, key string) {}

// RecordFailure implements Limiter.
func (l *NoopLimiter) RecordFailure(ctx context.Context, key string) {}

// GetLimit implements Limiter.
func (l *NoopLimiter) GetLimit(key string) *Limit {
	return nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}
