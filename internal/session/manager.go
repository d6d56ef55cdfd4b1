package session

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/routeguard/routeguard/internal/auth/token"
	"github.com/routeguard/routeguard/internal/lockout"
	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/ratelimit"
)

// Token audiences. Access and refresh tokens carry distinct audiences so one
// can never be presented in place of the other.
const (
	AudienceAccess  = "access"
	AudienceRefresh = "refresh"
)

// Default manager settings.
const (
	// DefaultAccessTokenTTL is the access token lifetime.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the refresh token lifetime.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultMaxConcurrentSessions caps live sessions per user.
	DefaultMaxConcurrentSessions = 5

	// DefaultCleanupInterval is how often expired sessions are reclaimed.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultLocationHeader carries the client location resolved upstream.
	DefaultLocationHeader = "X-Geo-Location"

	// FingerprintHeader carries an explicit client device fingerprint.
	FingerprintHeader = "X-Device-Fingerprint"
)

// ViolationRecorder records security violations raised during validation.
// Recorder failures never fail validation.
type ViolationRecorder interface {
	RecordSecurityViolation(
		ctx context.Context,
		userID string,
		vtype lockout.ViolationType,
		ip, userAgent string,
		metadata map[string]string,
	) (*lockout.Violation, error)
}

// Config contains session manager configuration.
type Config struct {
	// AccessTokenTTL is the access token lifetime.
	AccessTokenTTL time.Duration `yaml:"accessTokenTTL"`

	// RefreshTokenTTL is the refresh token lifetime.
	RefreshTokenTTL time.Duration `yaml:"refreshTokenTTL"`

	// MaxConcurrentSessions caps live sessions per user. On overflow the
	// session with the oldest activity is evicted.
	MaxConcurrentSessions int `yaml:"maxConcurrentSessions"`

	// LocationHeader names the header carrying the client location.
	LocationHeader string `yaml:"locationHeader"`

	// CleanupInterval is how often expired sessions are reclaimed.
	// Expired sessions are also dropped lazily at read.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// Risk contains risk scoring weights and thresholds.
	Risk *RiskConfig `yaml:"risk"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		AccessTokenTTL:        DefaultAccessTokenTTL,
		RefreshTokenTTL:       DefaultRefreshTokenTTL,
		MaxConcurrentSessions: DefaultMaxConcurrentSessions,
		LocationHeader:        DefaultLocationHeader,
		CleanupInterval:       DefaultCleanupInterval,
		Risk:                  DefaultRiskConfig(),
	}
}

// Manager issues, validates, and terminates sessions.
type Manager struct {
	config     *Config
	signer     token.Signer
	verifier   token.Verifier
	logger     observability.Logger
	metrics    *Metrics
	violations ViolationRecorder

	mu       sync.RWMutex
	sessions map[string]*Record

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for the manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics for the manager.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithViolationRecorder sets the violation recorder for auth failures.
func WithViolationRecorder(recorder ViolationRecorder) Option {
	return func(m *Manager) {
		m.violations = recorder
	}
}

// NewManager creates a new session manager.
func NewManager(config *Config, signer token.Signer, verifier token.Verifier, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.MaxConcurrentSessions <= 0 {
		config.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if config.LocationHeader == "" {
		config.LocationHeader = DefaultLocationHeader
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.Risk == nil {
		config.Risk = DefaultRiskConfig()
	}

	m := &Manager{
		config:   config,
		signer:   signer,
		verifier: verifier,
		logger:   observability.NopLogger(),
		sessions: make(map[string]*Record),
		stopCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupLoop()

	return m
}

// Close stops the background cleanup loop.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// ContextFromRequest extracts the security context of a request. The
// fingerprint is the client-presented one; scoring skips it when absent so a
// user-agent change is not double counted through a derived hash.
func (m *Manager) ContextFromRequest(r *http.Request) SecurityContext {
	return SecurityContext{
		IPAddress:   ratelimit.GetClientIP(r),
		UserAgent:   r.Header.Get("User-Agent"),
		Fingerprint: r.Header.Get(FingerprintHeader),
		Location:    r.Header.Get(m.config.LocationHeader),
	}
}

// CreateSession creates a new session for the user and issues the signed
// token pair. When the user already holds the maximum number of live
// sessions, the one with the oldest activity is evicted.
func (m *Manager) CreateSession(ctx context.Context, user *User, r *http.Request, extra map[string]string) (*Tokens, error) {
	if user == nil || user.ID == "" {
		return nil, ErrNilUser
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	secCtx := m.ContextFromRequest(r)
	if secCtx.Fingerprint == "" {
		secCtx.Fingerprint = Fingerprint(r)
	}
	sessionID := uuid.New().String()

	claims := func() *token.Claims {
		return &token.Claims{
			Subject: user.ID,
			Extra: map[string]interface{}{
				token.ClaimEmail:       user.Email,
				token.ClaimRole:        user.Role,
				token.ClaimSessionID:   sessionID,
				token.ClaimFingerprint: secCtx.Fingerprint,
			},
		}
	}

	accessToken, err := m.signer.Sign(ctx, claims(), token.SigningOptions{
		ExpiresIn:       m.config.AccessTokenTTL,
		Audience:        []string{AudienceAccess},
		GenerateTokenID: true,
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.signer.Sign(ctx, claims(), token.SigningOptions{
		ExpiresIn:       m.config.RefreshTokenTTL,
		Audience:        []string{AudienceRefresh},
		GenerateTokenID: true,
	})
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:           sessionID,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		Context:      secCtx,
		Extra:        extra,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.config.RefreshTokenTTL),
	}

	m.mu.Lock()
	m.evictOverflowLocked(user.ID)
	m.sessions[sessionID] = record
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordCreated()
	m.metrics.SetActive(active)

	m.logger.Info("session created",
		observability.String("session_id", sessionID),
		observability.String("user_id", user.ID),
		observability.String("ip", secCtx.IPAddress),
	)

	return &Tokens{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(m.config.AccessTokenTTL),
		RefreshExpiresAt: now.Add(m.config.RefreshTokenTTL),
	}, nil
}

// ValidateSession verifies the access token, resolves the session, and
// scores the request context against the stored one. High-risk requests
// terminate the session.
func (m *Manager) ValidateSession(ctx context.Context, accessToken string, r *http.Request) *Validation {
	claims, err := m.verifier.Verify(ctx, accessToken, AudienceAccess)
	if err != nil {
		code := codeForTokenError(err)
		m.metrics.RecordValidation(string(code))
		return &Validation{Valid: false, Code: code, Err: err, RiskLevel: RiskLow}
	}

	sessionID := claims.GetString(token.ClaimSessionID)
	now := time.Now()
	current := m.ContextFromRequest(r)

	m.mu.Lock()
	record, ok := m.sessions[sessionID]
	if ok && record.Expired(now) {
		delete(m.sessions, sessionID)
		active := len(m.sessions)
		m.mu.Unlock()

		m.metrics.RecordValidation(string(CodeNotFound))
		m.metrics.SetActive(active)
		return &Validation{Valid: false, Code: CodeNotFound, Err: ErrSessionExpired, RiskLevel: RiskLow}
	}
	if !ok {
		m.mu.Unlock()
		m.metrics.RecordValidation(string(CodeNotFound))
		m.recordViolation(ctx, claims.Subject, lockout.ViolationInvalidSession, r, map[string]string{
			"session_id": sessionID,
		})
		return &Validation{Valid: false, Code: CodeNotFound, Err: ErrSessionNotFound, RiskLevel: RiskLow}
	}

	score := m.config.Risk.Score(record.Context, current, record.LastActivity, now)
	level := m.config.Risk.Level(score)

	if level == RiskHigh {
		delete(m.sessions, sessionID)
		active := len(m.sessions)
		m.mu.Unlock()

		m.metrics.RecordValidation(string(CodeHighRisk))
		m.metrics.RecordRisk(string(RiskHigh))
		m.metrics.SetActive(active)

		m.logger.Warn("high risk session terminated",
			observability.String("session_id", sessionID),
			observability.String("user_id", record.UserID),
			observability.Int("risk_score", score),
		)

		m.recordViolation(ctx, record.UserID, lockout.ViolationSuspiciousLogin, r, map[string]string{
			"session_id": sessionID,
			"risk_score": strconv.Itoa(score),
		})

		return &Validation{
			Valid:     false,
			Code:      CodeHighRisk,
			Err:       ErrSessionHighRisk,
			RiskLevel: RiskHigh,
			RiskScore: score,
		}
	}

	record.LastActivity = now
	record.Context = current
	snapshot := *record
	m.mu.Unlock()

	m.metrics.RecordValidation("ok")
	m.metrics.RecordRisk(string(level))

	return &Validation{
		Valid:     true,
		Session:   &snapshot,
		RiskLevel: level,
		RiskScore: score,
	}
}

// PeekIdentity verifies the access token and returns its session and user
// identifiers without resolving the session or scoring risk. Used where a
// step needs the token's binding before full validation runs.
func (m *Manager) PeekIdentity(ctx context.Context, accessToken string) (sessionID, userID string, err error) {
	claims, err := m.verifier.Verify(ctx, accessToken, AudienceAccess)
	if err != nil {
		return "", "", err
	}
	return claims.GetString(token.ClaimSessionID), claims.Subject, nil
}

// RefreshAccessToken verifies the refresh token and issues a new access
// token bound to the same session.
func (m *Manager) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := m.verifier.Verify(ctx, refreshToken, AudienceRefresh)
	if err != nil {
		return "", err
	}

	sessionID := claims.GetString(token.ClaimSessionID)
	now := time.Now()

	// Snapshot the fields needed for signing while holding the lock;
	// ValidateSession mutates the record concurrently.
	m.mu.Lock()
	record, ok := m.sessions[sessionID]
	if ok && record.Expired(now) {
		delete(m.sessions, sessionID)
		active := len(m.sessions)
		m.mu.Unlock()

		m.metrics.SetActive(active)
		return "", ErrSessionExpired
	}
	if !ok {
		m.mu.Unlock()
		return "", ErrSessionNotFound
	}
	record.LastActivity = now
	snapshot := *record
	m.mu.Unlock()

	accessToken, err := m.signer.Sign(ctx, &token.Claims{
		Subject: snapshot.UserID,
		Extra: map[string]interface{}{
			token.ClaimEmail:       snapshot.Email,
			token.ClaimRole:        snapshot.Role,
			token.ClaimSessionID:   sessionID,
			token.ClaimFingerprint: snapshot.Context.Fingerprint,
		},
	}, token.SigningOptions{
		ExpiresIn:       m.config.AccessTokenTTL,
		Audience:        []string{AudienceAccess},
		GenerateTokenID: true,
	})
	if err != nil {
		return "", err
	}

	m.metrics.RecordRefresh()

	m.logger.Debug("access token refreshed",
		observability.String("session_id", sessionID),
		observability.String("user_id", snapshot.UserID),
	)

	return accessToken, nil
}

// TerminateSession removes the session. Terminating an unknown session
// returns ErrSessionNotFound.
func (m *Manager) TerminateSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	record, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	m.metrics.RecordTerminated()
	m.metrics.SetActive(active)

	m.logger.Info("session terminated",
		observability.String("session_id", sessionID),
		observability.String("user_id", record.UserID),
	)

	return nil
}

// TerminateUserSessions removes all sessions of the user and returns how
// many were removed.
func (m *Manager) TerminateUserSessions(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	removed := 0
	for id, record := range m.sessions {
		if record.UserID == userID {
			delete(m.sessions, id)
			removed++
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	for i := 0; i < removed; i++ {
		m.metrics.RecordTerminated()
	}
	m.metrics.SetActive(active)

	return removed, nil
}

// GetUserSessions returns copies of the user's live sessions ordered by most
// recent activity.
func (m *Manager) GetUserSessions(ctx context.Context, userID string) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()

	m.mu.Lock()
	out := make([]*Record, 0, 4)
	for id, record := range m.sessions {
		if record.Expired(now) {
			delete(m.sessions, id)
			continue
		}
		if record.UserID == userID {
			c := *record
			out = append(out, &c)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})

	return out, nil
}

// evictOverflowLocked evicts the user's oldest session by activity when the
// concurrency cap is reached. Expired sessions are dropped first so they
// never hold a slot. Caller holds the write lock.
func (m *Manager) evictOverflowLocked(userID string) {
	now := time.Now()
	for id, record := range m.sessions {
		if record.Expired(now) {
			delete(m.sessions, id)
		}
	}

	for {
		count := 0
		var oldest *Record
		for _, record := range m.sessions {
			if record.UserID != userID {
				continue
			}
			count++
			if oldest == nil || record.LastActivity.Before(oldest.LastActivity) {
				oldest = record
			}
		}
		if count < m.config.MaxConcurrentSessions || oldest == nil {
			return
		}

		delete(m.sessions, oldest.ID)

		m.logger.Info("evicted oldest session",
			observability.String("session_id", oldest.ID),
			observability.String("user_id", userID),
		)
	}
}

// cleanupLoop periodically reclaims expired sessions.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes every expired session.
func (m *Manager) cleanup() {
	now := time.Now()

	m.mu.Lock()
	removed := 0
	for id, record := range m.sessions {
		if record.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if removed == 0 {
		return
	}

	for i := 0; i < removed; i++ {
		m.metrics.RecordTerminated()
	}
	m.metrics.SetActive(active)

	m.logger.Debug("expired sessions reclaimed",
		observability.Int("count", removed),
	)
}

// recordViolation reports an auth failure to the lockout manager, fail-open.
func (m *Manager) recordViolation(ctx context.Context, userID string, vtype lockout.ViolationType, r *http.Request, metadata map[string]string) {
	if m.violations == nil || userID == "" {
		return
	}

	ip := ratelimit.GetClientIP(r)
	userAgent := r.Header.Get("User-Agent")

	if _, err := m.violations.RecordSecurityViolation(ctx, userID, vtype, ip, userAgent, metadata); err != nil {
		m.logger.Warn("failed to record security violation",
			observability.String("user_id", userID),
			observability.String("type", string(vtype)),
			observability.Error(err),
		)
	}
}
