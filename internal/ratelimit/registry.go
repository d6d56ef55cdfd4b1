package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/store"
)

// Route categories with independent limiter instances. Each category owns
// its keyspace, window, and maximum.
const (
	CategoryLogin   = "login"
	CategoryGeneral = "general"
	CategoryAdmin   = "admin"
)

// DefaultCategoryConfigs returns the default per-category limiter
// configurations.
func DefaultCategoryConfigs() map[string]*Config {
	return map[string]*Config{
		CategoryLogin: {
			Strategy:    StrategyFixedWindow,
			MaxRequests: 5,
			Window:      15 * time.Minute,
			KeyPrefix:   CategoryLogin,
			// Only failed logins count toward the limit.
			SkipSuccessfulRequests: true,
		},
		CategoryGeneral: {
			Strategy:    StrategyFixedWindow,
			MaxRequests: 100,
			Window:      time.Minute,
			KeyPrefix:   CategoryGeneral,
		},
		CategoryAdmin: {
			Strategy:    StrategyFixedWindow,
			MaxRequests: 30,
			Window:      time.Minute,
			KeyPrefix:   CategoryAdmin,
		},
	}
}

// Registry holds one limiter instance per route category.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
}

// NewRegistry builds a limiter per category from the given configurations.
// Categories without an explicit strategy use fixed window.
func NewRegistry(s store.Store, configs map[string]*Config, logger observability.Logger, metrics *Metrics) (*Registry, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if configs == nil {
		configs = DefaultCategoryConfigs()
	}

	r := &Registry{limiters: make(map[string]Limiter, len(configs))}

	for category, cfg := range configs {
		if cfg.KeyPrefix == "" {
			cfg.KeyPrefix = category
		}

		limiter, err := newLimiter(s, cfg, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", category, err)
		}
		r.limiters[category] = limiter
	}

	return r, nil
}

// newLimiter creates a limiter for the configured strategy.
func newLimiter(s store.Store, cfg *Config, logger observability.Logger, metrics *Metrics) (Limiter, error) {
	switch cfg.Strategy {
	case StrategyFixedWindow, "":
		return NewFixedWindowLimiter(s, cfg,
			WithFixedWindowLogger(logger),
			WithFixedWindowMetrics(metrics),
		), nil
	case StrategySlidingWindow:
		return NewSlidingWindowLimiter(cfg, logger), nil
	case StrategyTokenBucket:
		return NewTokenBucketLimiter(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy: %s", cfg.Strategy)
	}
}

// Get returns the limiter for the given category, falling back to the
// general limiter when the category is unknown.
func (r *Registry) Get(category string) Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if l, ok := r.limiters[category]; ok {
		return l
	}
	if l, ok := r.limiters[CategoryGeneral]; ok {
		return l
	}
	return NewNoopLimiter()
}

// Set registers or replaces the limiter for a category.
func (r *Registry) Set(category string, limiter Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[category] = limiter
}
