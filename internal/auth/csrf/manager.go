// Package csrf provides session-bound CSRF token issuance and validation.
package csrf

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/routeguard/routeguard/internal/observability"
)

// Default manager settings.
const (
	// DefaultTokenTTL is the default token lifetime.
	DefaultTokenTTL = 60 * time.Minute

	// DefaultMaxTokensPerSession caps live tokens per session.
	DefaultMaxTokensPerSession = 5

	// DefaultCleanupInterval is the background cleanup period.
	DefaultCleanupInterval = 5 * time.Minute

	// HeaderName is the request header carrying the token.
	HeaderName = "X-CSRF-Token"

	// AuthorizationScheme is the Authorization scheme carrying the token.
	AuthorizationScheme = "CSRF-Token"

	// CookieName is the cookie carrying the token for double-submit clients.
	CookieName = "csrf_token"

	// FormFieldName is the form field carrying the token.
	FormFieldName = "csrf_token"

	tokenByteLength = 32
)

// tokenRecord is a live token bound to a session and user.
type tokenRecord struct {
	token     string
	sessionID string
	userID    string
	createdAt time.Time
	expiresAt time.Time
}

// Config contains CSRF manager configuration.
type Config struct {
	// TokenTTL is the token lifetime.
	TokenTTL time.Duration `yaml:"tokenTTL"`

	// MaxTokensPerSession caps live tokens per session. When the cap is
	// reached the oldest token is evicted.
	MaxTokensPerSession int `yaml:"maxTokensPerSession"`

	// CleanupInterval is the background cleanup period.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// CookieSecure marks issued cookies as Secure.
	CookieSecure bool `yaml:"cookieSecure"`

	// CookiePath is the path of issued cookies.
	CookiePath string `yaml:"cookiePath"`
}

// DefaultConfig returns the default CSRF configuration.
func DefaultConfig() *Config {
	return &Config{
		TokenTTL:            DefaultTokenTTL,
		MaxTokensPerSession: DefaultMaxTokensPerSession,
		CleanupInterval:     DefaultCleanupInterval,
		CookieSecure:        true,
		CookiePath:          "/",
	}
}

// Manager issues and validates session-bound CSRF tokens.
type Manager struct {
	config  *Config
	logger  observability.Logger
	metrics *Metrics

	mu        sync.RWMutex
	tokens    map[string]*tokenRecord   // token -> record
	bySession map[string][]*tokenRecord // sessionID -> records, oldest first

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

// NewManager creates a new CSRF manager.
func NewManager(config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	if config.MaxTokensPerSession <= 0 {
		config.MaxTokensPerSession = DefaultMaxTokensPerSession
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.CookiePath == "" {
		config.CookiePath = "/"
	}

	m := &Manager{
		config:    config,
		logger:    observability.NopLogger(),
		tokens:    make(map[string]*tokenRecord),
		bySession: make(map[string][]*tokenRecord),
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupLoop()

	return m
}

// GenerateToken issues a new token bound to the session and user. When the
// per-session cap is reached the oldest live token is evicted.
func (m *Manager) GenerateToken(ctx context.Context, sessionID, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", ErrEmptySessionID
	}

	raw := make([]byte, tokenByteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now()
	record := &tokenRecord{
		token:     token,
		sessionID: sessionID,
		userID:    userID,
		createdAt: now,
		expiresAt: now.Add(m.config.TokenTTL),
	}

	m.mu.Lock()
	records := m.bySession[sessionID]
	if len(records) >= m.config.MaxTokensPerSession {
		oldest := records[0]
		delete(m.tokens, oldest.token)
		records = records[1:]

		m.logger.Debug("evicted oldest csrf token",
			observability.String("session_id", sessionID),
		)
	}
	m.tokens[token] = record
	m.bySession[sessionID] = append(records, record)
	m.mu.Unlock()

	m.metrics.RecordGenerated()

	return token, nil
}

// ValidateToken checks that the token exists, is bound to the given session
// and user, and has not expired. Expired tokens are removed at read.
func (m *Manager) ValidateToken(ctx context.Context, token, sessionID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token == "" {
		m.metrics.RecordValidation(false)
		return ErrEmptyToken
	}
	if sessionID == "" {
		m.metrics.RecordValidation(false)
		return ErrEmptySessionID
	}

	m.mu.RLock()
	record, ok := m.tokens[token]
	m.mu.RUnlock()

	if !ok {
		m.metrics.RecordValidation(false)
		return ErrTokenNotFound
	}

	if time.Now().After(record.expiresAt) {
		m.removeToken(token)
		m.metrics.RecordValidation(false)
		return ErrTokenExpired
	}

	if record.sessionID != sessionID {
		m.metrics.RecordValidation(false)
		return ErrSessionMismatch
	}
	if userID != "" && record.userID != userID {
		m.metrics.RecordValidation(false)
		return ErrUserMismatch
	}

	m.metrics.RecordValidation(true)
	return nil
}

// ExtractToken extracts a CSRF token from the request. Lookup order is the
// X-CSRF-Token header, the Authorization header with the CSRF-Token scheme,
// the form field, then the cookie.
func (m *Manager) ExtractToken(r *http.Request) string {
	if token := r.Header.Get(HeaderName); token != "" {
		return token
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], AuthorizationScheme) {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := r.PostFormValue(FormFieldName); token != "" {
		return token
	}

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}

// RequiresValidation reports whether the HTTP method needs CSRF validation.
// Safe methods bypass validation entirely.
func RequiresValidation(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// InvalidateSessionTokens removes all tokens bound to the session.
func (m *Manager) InvalidateSessionTokens(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.bySession[sessionID]
	for _, record := range records {
		delete(m.tokens, record.token)
	}
	delete(m.bySession, sessionID)

	return len(records)
}

// InvalidateUserTokens removes all tokens bound to the user across sessions.
func (m *Manager) InvalidateUserTokens(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for sessionID, records := range m.bySession {
		kept := records[:0]
		for _, record := range records {
			if record.userID == userID {
				delete(m.tokens, record.token)
				removed++
			} else {
				kept = append(kept, record)
			}
		}
		if len(kept) == 0 {
			delete(m.bySession, sessionID)
		} else {
			m.bySession[sessionID] = kept
		}
	}

	return removed
}

// SetTokenCookie writes the token to the response as a cookie. The cookie is
// intentionally readable by scripts so the client can mirror it into the
// header for double-submit validation.
func (m *Manager) SetTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     m.config.CookiePath,
		MaxAge:   int(m.config.TokenTTL.Seconds()),
		Secure:   m.config.CookieSecure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// SessionTokenCount returns the number of live tokens for the session.
func (m *Manager) SessionTokenCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession[sessionID])
}

// Close stops the background cleanup loop.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// removeToken removes a single token from both indexes.
func (m *Manager) removeToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.tokens[token]
	if !ok {
		return
	}
	delete(m.tokens, token)

	records := m.bySession[record.sessionID]
	for i, r := range records {
		if r.token == token {
			m.bySession[record.sessionID] = append(records[:i], records[i+1:]...)
			break
		}
	}
	if len(m.bySession[record.sessionID]) == 0 {
		delete(m.bySession, record.sessionID)
	}
}

// cleanupLoop periodically removes expired tokens.
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

// cleanup removes expired tokens from both indexes.
func (m *Manager) cleanup() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for token, record := range m.tokens {
		if now.After(record.expiresAt) {
			delete(m.tokens, token)
		}
	}
	for sessionID, records := range m.bySession {
		kept := records[:0]
		for _, record := range records {
			if !now.After(record.expiresAt) {
				kept = append(kept, record)
			}
		}
		if len(kept) == 0 {
			delete(m.bySession, sessionID)
		} else {
			m.bySession[sessionID] = kept
		}
	}
}
