// Package config loads and validates the routeguard configuration from YAML
// files, with environment variable substitution and hot reload.
package config

import (
	"fmt"
	"time"

	"github.com/routeguard/routeguard/internal/audit"
	"github.com/routeguard/routeguard/internal/auth/csrf"
	"github.com/routeguard/routeguard/internal/auth/token"
	"github.com/routeguard/routeguard/internal/guard"
	"github.com/routeguard/routeguard/internal/lockout"
	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/ratelimit"
	"github.com/routeguard/routeguard/internal/session"
	"github.com/routeguard/routeguard/internal/store"
)

// Config is the root routeguard configuration.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Logging   LoggingConfig       `yaml:"logging"`
	Store     StoreConfig         `yaml:"store"`
	Signing   SigningConfig       `yaml:"signing"`
	RateLimit RateLimitConfig     `yaml:"rateLimit"`
	CSRF      CSRFConfig          `yaml:"csrf"`
	Lockout   LockoutConfig       `yaml:"lockout"`
	Session   SessionConfig       `yaml:"session"`
	Routes    []guard.RouteConfig `yaml:"routes"`
	Audit     AuditConfig         `yaml:"audit"`
	Users     []UserConfig        `yaml:"users"`
}

// UserConfig seeds one user account. PasswordHash is a bcrypt hash.
type UserConfig struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	Role         string `yaml:"role"`
	PasswordHash string `yaml:"passwordHash"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	MetricsPath     string   `yaml:"metricsPath"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StoreConfig selects and configures the counter store backend.
type StoreConfig struct {
	// Type is "memory" or "redis".
	Type  string           `yaml:"type"`
	Redis RedisStoreConfig `yaml:"redis"`
}

// RedisStoreConfig contains Redis connection settings.
type RedisStoreConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	Prefix       string   `yaml:"prefix"`
	PoolSize     int      `yaml:"poolSize"`
	MinIdleConns int      `yaml:"minIdleConns"`
	MaxRetries   int      `yaml:"maxRetries"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// SigningConfig contains token signing settings.
type SigningConfig struct {
	Secret    string   `yaml:"secret"`
	Algorithm string   `yaml:"algorithm"`
	Issuer    string   `yaml:"issuer"`
	ClockSkew Duration `yaml:"clockSkew"`
}

// RateLimitConfig contains per-category limiter settings.
type RateLimitConfig struct {
	Categories map[string]CategoryConfig `yaml:"categories"`
}

// CategoryConfig configures one rate limit category.
type CategoryConfig struct {
	Strategy    string   `yaml:"strategy"`
	MaxRequests int      `yaml:"maxRequests"`
	Window      Duration `yaml:"window"`
	Burst       int      `yaml:"burst"`

	// SkipSuccessfulRequests uncounts requests that complete successfully,
	// so only failures accumulate toward the limit.
	SkipSuccessfulRequests bool `yaml:"skipSuccessfulRequests"`

	// SkipFailedRequests uncounts requests that fail.
	SkipFailedRequests bool `yaml:"skipFailedRequests"`
}

// CSRFConfig contains CSRF token settings.
type CSRFConfig struct {
	TokenTTL            Duration `yaml:"tokenTTL"`
	MaxTokensPerSession int      `yaml:"maxTokensPerSession"`
	CleanupInterval     Duration `yaml:"cleanupInterval"`
	CookieSecure        bool     `yaml:"cookieSecure"`
	CookiePath          string   `yaml:"cookiePath"`
}

// LockoutConfig contains account lockout settings.
type LockoutConfig struct {
	MaxFailedAttempts     int        `yaml:"maxFailedAttempts"`
	NotificationThreshold int        `yaml:"notificationThreshold"`
	AttemptWindow         Duration   `yaml:"attemptWindow"`
	BackoffTable          []Duration `yaml:"backoffTable"`
	MaxLockoutDuration    Duration   `yaml:"maxLockoutDuration"`
}

// SessionConfig contains session manager settings.
type SessionConfig struct {
	AccessTokenTTL        Duration   `yaml:"accessTokenTTL"`
	RefreshTokenTTL       Duration   `yaml:"refreshTokenTTL"`
	MaxConcurrentSessions int        `yaml:"maxConcurrentSessions"`
	LocationHeader        string     `yaml:"locationHeader"`
	CleanupInterval       Duration   `yaml:"cleanupInterval"`
	Risk                  RiskConfig `yaml:"risk"`
}

// RiskConfig contains session risk scoring weights and thresholds.
type RiskConfig struct {
	WeightIPChange          int      `yaml:"weightIPChange"`
	WeightUserAgentChange   int      `yaml:"weightUserAgentChange"`
	WeightFingerprintChange int      `yaml:"weightFingerprintChange"`
	WeightLocationChange    int      `yaml:"weightLocationChange"`
	WeightInactivity        int      `yaml:"weightInactivity"`
	InactivityGap           Duration `yaml:"inactivityGap"`
	MediumRiskThreshold     int      `yaml:"mediumRiskThreshold"`
	HighRiskThreshold       int      `yaml:"highRiskThreshold"`
}

// AuditConfig contains audit logging and sink settings.
type AuditConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Output       string          `yaml:"output"`
	RedactFields []string        `yaml:"redactFields"`
	Sink         AuditSinkConfig `yaml:"sink"`
}

// AuditSinkConfig contains the durable sink settings.
type AuditSinkConfig struct {
	WriteTimeout     Duration `yaml:"writeTimeout"`
	BreakerThreshold int      `yaml:"breakerThreshold"`
	BreakerTimeout   Duration `yaml:"breakerTimeout"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	sessionDefaults := session.DefaultConfig()
	riskDefaults := session.DefaultRiskConfig()
	lockoutDefaults := lockout.DefaultConfig()
	csrfDefaults := csrf.DefaultConfig()
	auditDefaults := audit.DefaultConfig()
	sinkDefaults := audit.DefaultSinkConfig()
	redisDefaults := store.DefaultRedisConfig()

	backoff := make([]Duration, len(lockoutDefaults.BackoffTable))
	for i, d := range lockoutDefaults.BackoffTable {
		backoff[i] = Duration(d)
	}

	categories := make(map[string]CategoryConfig)
	for name, cfg := range ratelimit.DefaultCategoryConfigs() {
		categories[name] = CategoryConfig{
			Strategy:               string(cfg.Strategy),
			MaxRequests:            cfg.MaxRequests,
			Window:                 Duration(cfg.Window),
			Burst:                  cfg.Burst,
			SkipSuccessfulRequests: cfg.SkipSuccessfulRequests,
			SkipFailedRequests:     cfg.SkipFailedRequests,
		}
	}

	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsPath:     "/metrics",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisStoreConfig{
				Address:      redisDefaults.Address,
				Prefix:       redisDefaults.Prefix,
				PoolSize:     redisDefaults.PoolSize,
				MinIdleConns: redisDefaults.MinIdleConns,
				MaxRetries:   redisDefaults.MaxRetries,
				DialTimeout:  Duration(redisDefaults.DialTimeout),
				ReadTimeout:  Duration(redisDefaults.ReadTimeout),
				WriteTimeout: Duration(redisDefaults.WriteTimeout),
			},
		},
		Signing: SigningConfig{
			Algorithm: token.AlgHS256,
			Issuer:    "routeguard",
		},
		RateLimit: RateLimitConfig{Categories: categories},
		CSRF: CSRFConfig{
			TokenTTL:            Duration(csrfDefaults.TokenTTL),
			MaxTokensPerSession: csrfDefaults.MaxTokensPerSession,
			CleanupInterval:     Duration(csrfDefaults.CleanupInterval),
			CookiePath:          csrfDefaults.CookiePath,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts:     lockoutDefaults.MaxFailedAttempts,
			NotificationThreshold: lockoutDefaults.NotificationThreshold,
			AttemptWindow:         Duration(lockoutDefaults.AttemptWindow),
			BackoffTable:          backoff,
			MaxLockoutDuration:    Duration(lockoutDefaults.MaxLockoutDuration),
		},
		Session: SessionConfig{
			AccessTokenTTL:        Duration(sessionDefaults.AccessTokenTTL),
			RefreshTokenTTL:       Duration(sessionDefaults.RefreshTokenTTL),
			MaxConcurrentSessions: sessionDefaults.MaxConcurrentSessions,
			LocationHeader:        sessionDefaults.LocationHeader,
			CleanupInterval:       Duration(sessionDefaults.CleanupInterval),
			Risk: RiskConfig{
				WeightIPChange:          riskDefaults.WeightIPChange,
				WeightUserAgentChange:   riskDefaults.WeightUserAgentChange,
				WeightFingerprintChange: riskDefaults.WeightFingerprintChange,
				WeightLocationChange:    riskDefaults.WeightLocationChange,
				WeightInactivity:        riskDefaults.WeightInactivity,
				InactivityGap:           Duration(riskDefaults.InactivityGap),
				MediumRiskThreshold:     riskDefaults.MediumRiskThreshold,
				HighRiskThreshold:       riskDefaults.HighRiskThreshold,
			},
		},
		Audit: AuditConfig{
			Enabled:      auditDefaults.Enabled,
			Output:       auditDefaults.Output,
			RedactFields: auditDefaults.RedactFields,
			Sink: AuditSinkConfig{
				WriteTimeout:     Duration(sinkDefaults.WriteTimeout),
				BreakerThreshold: sinkDefaults.BreakerThreshold,
				BreakerTimeout:   Duration(sinkDefaults.BreakerTimeout),
			},
		},
	}
}

// LogConfig converts the logging section.
func (c *Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// RedisConfig converts the Redis store section.
func (c *Config) RedisConfig() *store.RedisConfig {
	return &store.RedisConfig{
		Address:      c.Store.Redis.Address,
		Password:     c.Store.Redis.Password,
		DB:           c.Store.Redis.DB,
		Prefix:       c.Store.Redis.Prefix,
		PoolSize:     c.Store.Redis.PoolSize,
		MinIdleConns: c.Store.Redis.MinIdleConns,
		MaxRetries:   c.Store.Redis.MaxRetries,
		DialTimeout:  c.Store.Redis.DialTimeout.Duration(),
		ReadTimeout:  c.Store.Redis.ReadTimeout.Duration(),
		WriteTimeout: c.Store.Redis.WriteTimeout.Duration(),
	}
}

// TokenConfig converts the signing section.
func (c *Config) TokenConfig() *token.Config {
	return &token.Config{
		Secret:    []byte(c.Signing.Secret),
		Algorithm: c.Signing.Algorithm,
		Issuer:    c.Signing.Issuer,
	}
}

// RateLimitConfigs converts the rate limit section into per-category limiter
// configurations.
func (c *Config) RateLimitConfigs() map[string]*ratelimit.Config {
	if len(c.RateLimit.Categories) == 0 {
		return ratelimit.DefaultCategoryConfigs()
	}

	configs := make(map[string]*ratelimit.Config, len(c.RateLimit.Categories))
	for name, cat := range c.RateLimit.Categories {
		configs[name] = &ratelimit.Config{
			Strategy:               ratelimit.Strategy(cat.Strategy),
			MaxRequests:            cat.MaxRequests,
			Window:                 cat.Window.Duration(),
			Burst:                  cat.Burst,
			KeyPrefix:              name,
			SkipSuccessfulRequests: cat.SkipSuccessfulRequests,
			SkipFailedRequests:     cat.SkipFailedRequests,
		}
	}
	return configs
}

// CSRFManagerConfig converts the CSRF section.
func (c *Config) CSRFManagerConfig() *csrf.Config {
	return &csrf.Config{
		TokenTTL:            c.CSRF.TokenTTL.Duration(),
		MaxTokensPerSession: c.CSRF.MaxTokensPerSession,
		CleanupInterval:     c.CSRF.CleanupInterval.Duration(),
		CookieSecure:        c.CSRF.CookieSecure,
		CookiePath:          c.CSRF.CookiePath,
	}
}

// LockoutManagerConfig converts the lockout section.
func (c *Config) LockoutManagerConfig() *lockout.Config {
	backoff := make([]time.Duration, len(c.Lockout.BackoffTable))
	for i, d := range c.Lockout.BackoffTable {
		backoff[i] = d.Duration()
	}
	return &lockout.Config{
		MaxFailedAttempts:     c.Lockout.MaxFailedAttempts,
		NotificationThreshold: c.Lockout.NotificationThreshold,
		AttemptWindow:         c.Lockout.AttemptWindow.Duration(),
		BackoffTable:          backoff,
		MaxLockoutDuration:    c.Lockout.MaxLockoutDuration.Duration(),
	}
}

// SessionManagerConfig converts the session section.
func (c *Config) SessionManagerConfig() *session.Config {
	return &session.Config{
		AccessTokenTTL:        c.Session.AccessTokenTTL.Duration(),
		RefreshTokenTTL:       c.Session.RefreshTokenTTL.Duration(),
		MaxConcurrentSessions: c.Session.MaxConcurrentSessions,
		LocationHeader:        c.Session.LocationHeader,
		CleanupInterval:       c.Session.CleanupInterval.Duration(),
		Risk: &session.RiskConfig{
			WeightIPChange:          c.Session.Risk.WeightIPChange,
			WeightUserAgentChange:   c.Session.Risk.WeightUserAgentChange,
			WeightFingerprintChange: c.Session.Risk.WeightFingerprintChange,
			WeightLocationChange:    c.Session.Risk.WeightLocationChange,
			WeightInactivity:        c.Session.Risk.WeightInactivity,
			InactivityGap:           c.Session.Risk.InactivityGap.Duration(),
			MediumRiskThreshold:     c.Session.Risk.MediumRiskThreshold,
			HighRiskThreshold:       c.Session.Risk.HighRiskThreshold,
		},
	}
}

// AuditLoggerConfig converts the audit section.
func (c *Config) AuditLoggerConfig() *audit.Config {
	return &audit.Config{
		Enabled:      c.Audit.Enabled,
		Output:       c.Audit.Output,
		RedactFields: c.Audit.RedactFields,
	}
}

// AuditSinkSettings converts the audit sink section.
func (c *Config) AuditSinkSettings() *audit.SinkConfig {
	return &audit.SinkConfig{
		WriteTimeout:     c.Audit.Sink.WriteTimeout.Duration(),
		BreakerThreshold: c.Audit.Sink.BreakerThreshold,
		BreakerTimeout:   c.Audit.Sink.BreakerTimeout.Duration(),
	}
}

// minSigningSecretLength is the minimum accepted HMAC key length.
const minSigningSecretLength = 32

// Validate checks the configuration for structural errors.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	switch c.Store.Type {
	case "", "memory":
	case "redis":
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("store.redis.address is required for redis store")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}

	if len(c.Signing.Secret) < minSigningSecretLength {
		return fmt.Errorf("signing.secret must be at least %d bytes", minSigningSecretLength)
	}
	switch c.Signing.Algorithm {
	case "", token.AlgHS256, token.AlgHS384, token.AlgHS512:
	default:
		return fmt.Errorf("unknown signing algorithm %q", c.Signing.Algorithm)
	}

	for name, cat := range c.RateLimit.Categories {
		if cat.MaxRequests <= 0 {
			return fmt.Errorf("rateLimit.categories.%s.maxRequests must be positive", name)
		}
		if cat.Window.Duration() <= 0 {
			return fmt.Errorf("rateLimit.categories.%s.window must be positive", name)
		}
	}

	for i := 1; i < len(c.Lockout.BackoffTable); i++ {
		if c.Lockout.BackoffTable[i] < c.Lockout.BackoffTable[i-1] {
			return fmt.Errorf("lockout.backoffTable must be non-decreasing")
		}
	}

	if c.Session.Risk.HighRiskThreshold < c.Session.Risk.MediumRiskThreshold {
		return fmt.Errorf("session.risk.highRiskThreshold must be >= mediumRiskThreshold")
	}

	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.Email == "" {
			return fmt.Errorf("users[%d].email is required", i)
		}
		if seen[u.Email] {
			return fmt.Errorf("duplicate user email %q", u.Email)
		}
		seen[u.Email] = true
		if u.PasswordHash == "" {
			return fmt.Errorf("users[%d].passwordHash is required", i)
		}
	}

	// Route paths, allowlists, and validator expressions are checked by
	// building the matcher and compiling every configured expression.
	if _, err := guard.NewMatcher(c.Routes); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	validator, err := guard.NewValidator()
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	for _, route := range c.Routes {
		if route.CustomValidator == "" {
			continue
		}
		if err := validator.Compile(route.CustomValidator); err != nil {
			return fmt.Errorf("route %s: %w", route.Path, err)
		}
	}

	return nil
}
