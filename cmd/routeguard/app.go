package main

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routeguard/routeguard/internal/audit"
	"github.com/routeguard/routeguard/internal/auth/csrf"
	"github.com/routeguard/routeguard/internal/auth/token"
	"github.com/routeguard/routeguard/internal/config"
	"github.com/routeguard/routeguard/internal/guard"
	"github.com/routeguard/routeguard/internal/health"
	"github.com/routeguard/routeguard/internal/lockout"
	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/ratelimit"
	"github.com/routeguard/routeguard/internal/session"
	"github.com/routeguard/routeguard/internal/store"
)

// metricsNamespace is the Prometheus namespace for all components.
const metricsNamespace = "routeguard"

// application holds all wired components.
type application struct {
	config   *config.Config
	logger   observability.Logger
	store    store.Store
	signer   token.Signer
	verifier token.Verifier
	csrf     *csrf.Manager
	lockouts *lockout.Manager
	sessions *session.Manager
	limiters *ratelimit.Registry
	auditLog audit.Logger
	sink     *audit.Sink
	users    *userStore
	health   *health.Checker

	// guard holds the active pipeline; config reloads swap it atomically.
	guard atomic.Pointer[guard.Orchestrator]

	server *http.Server
}

// newApplication wires all components from the configuration.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initAuth(); err != nil {
		return nil, err
	}
	if err := app.initAudit(); err != nil {
		return nil, err
	}
	app.initManagers()
	if err := app.initGuard(cfg); err != nil {
		return nil, err
	}
	app.initUsers()
	app.initServer()

	return app, nil
}

// initStore creates the counter store backend.
func (a *application) initStore() error {
	switch a.config.Store.Type {
	case "", "memory":
		a.store = store.NewMemoryStore()
		a.logger.Info("using in-memory store")
	case "redis":
		redisStore, err := store.NewRedisStore(a.config.RedisConfig())
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.store = redisStore
		a.logger.Info("using redis store",
			observability.String("address", a.config.Store.Redis.Address),
		)
	default:
		return fmt.Errorf("unknown store type %q", a.config.Store.Type)
	}
	return nil
}

// initAuth creates the token signer and verifier.
func (a *application) initAuth() error {
	tokenCfg := a.config.TokenConfig()

	signer, err := token.NewSigner(tokenCfg, token.WithSignerLogger(a.logger))
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	verifierOpts := []token.VerifierOption{token.WithVerifierLogger(a.logger)}
	if skew := a.config.Signing.ClockSkew.Duration(); skew > 0 {
		verifierOpts = append(verifierOpts, token.WithClockSkew(skew))
	}
	verifier, err := token.NewVerifier(tokenCfg, verifierOpts...)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	a.signer = signer
	a.verifier = verifier
	return nil
}

// initAudit creates the audit logger and durable sink.
func (a *application) initAudit() error {
	auditLog, err := audit.NewLogger(a.config.AuditLoggerConfig(),
		audit.WithLoggerLogger(a.logger),
		audit.WithLoggerMetrics(audit.NewMetrics(metricsNamespace)),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	a.auditLog = auditLog
	a.sink = audit.NewSink(a.config.AuditSinkSettings(), auditLog,
		audit.WithSinkLogger(a.logger),
		audit.WithSinkMetrics(audit.NewMetrics(metricsNamespace)),
	)
	return nil
}

// initManagers creates the CSRF, lockout, and session managers.
func (a *application) initManagers() {
	a.csrf = csrf.NewManager(a.config.CSRFManagerConfig(),
		csrf.WithLogger(a.logger),
		csrf.WithMetrics(csrf.NewMetrics(metricsNamespace)),
	)

	a.lockouts = lockout.NewManager(a.config.LockoutManagerConfig(),
		lockout.WithLogger(a.logger),
		lockout.WithMetrics(lockout.NewMetrics(metricsNamespace)),
		lockout.WithViolationSink(a.sink),
	)

	a.sessions = session.NewManager(a.config.SessionManagerConfig(), a.signer, a.verifier,
		session.WithLogger(a.logger),
		session.WithMetrics(session.NewMetrics(metricsNamespace)),
		session.WithViolationRecorder(a.lockouts),
	)
}

// initGuard builds the protection pipeline from the given configuration and
// installs it. Called again on config reload.
func (a *application) initGuard(cfg *config.Config) error {
	limiters, err := ratelimit.NewRegistry(a.store, cfg.RateLimitConfigs(),
		a.logger, ratelimit.NewMetrics(metricsNamespace))
	if err != nil {
		return fmt.Errorf("failed to build rate limiters: %w", err)
	}

	orchestrator, err := guard.NewOrchestrator(cfg.Routes, limiters, a.csrf, a.sessions, a.lockouts,
		guard.WithLogger(a.logger),
		guard.WithMetrics(guard.NewMetrics(metricsNamespace)),
		guard.WithAuditor(a.sink),
	)
	if err != nil {
		return fmt.Errorf("failed to build protection pipeline: %w", err)
	}

	a.limiters = limiters
	a.guard.Store(orchestrator)
	return nil
}

// initUsers seeds the user store from configuration.
func (a *application) initUsers() {
	a.users = newUserStore()
	for _, u := range a.config.Users {
		a.users.add(&user{
			ID:           u.ID,
			Email:        u.Email,
			Role:         u.Role,
			PasswordHash: []byte(u.PasswordHash),
		})
	}
	a.logger.Info("seeded user store", observability.Int("users", len(a.config.Users)))
}

// guardMiddleware runs the active pipeline, surviving hot swaps.
func (a *application) guardMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		a.guard.Load().GinMiddleware()(c)
	}
}

// initServer builds the gin engine and HTTP server.
func (a *application) initServer() {
	a.health = health.NewChecker(version)
	a.health.RegisterCheck("store", health.StoreCheck(a.store))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginRecovery(a.logger))

	// Operational endpoints bypass the pipeline.
	engine.GET("/healthz", gin.WrapF(a.health.HealthHandler()))
	engine.GET("/readyz", gin.WrapF(a.health.ReadinessHandler()))
	engine.GET(a.config.Server.MetricsPath, gin.WrapH(promhttp.Handler()))

	protected := engine.Group("/", a.guardMiddleware())
	protected.POST("/api/login", a.handleLogin)
	protected.POST("/api/token/refresh", a.handleRefresh)
	protected.POST("/api/logout", a.handleLogout)
	protected.GET("/api/csrf", a.handleCSRFToken)
	protected.GET("/api/sessions", a.handleListSessions)
	protected.DELETE("/api/sessions/:id", a.handleTerminateSession)
	protected.GET("/api/me", a.handleWhoAmI)
	protected.POST("/api/admin/unlock", a.handleUnlock)
	protected.GET("/api/admin/violations/:userID", a.handleListViolations)

	a.server = &http.Server{
		Addr:         a.config.Server.Address,
		Handler:      engine,
		ReadTimeout:  a.config.Server.ReadTimeout.Duration(),
		WriteTimeout: a.config.Server.WriteTimeout.Duration(),
		IdleTimeout:  a.config.Server.IdleTimeout.Duration(),
	}
}

// ginRecovery logs panics and returns a generic 500.
func ginRecovery(logger observability.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.Error("panic recovered",
			observability.String("path", c.Request.URL.Path),
			observability.Any("panic", err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
