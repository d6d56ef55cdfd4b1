package guard

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/routeguard/routeguard/internal/auth/csrf"
	"github.com/routeguard/routeguard/internal/authz"
	"github.com/routeguard/routeguard/internal/lockout"
	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/ratelimit"
	"github.com/routeguard/routeguard/internal/session"
)

// SessionCookieName is the cookie carrying the access token.
const SessionCookieName = "session-token"

// SecurityContext is the successful pipeline outcome attached to a request.
type SecurityContext struct {
	User          *session.User     `json:"user,omitempty"`
	Session       *session.Record   `json:"session,omitempty"`
	SecurityLevel authz.Level       `json:"securityLevel"`
	RequestID     string            `json:"requestId"`
	RiskLevel     session.RiskLevel `json:"riskLevel"`
	RiskScore     int               `json:"riskScore"`
}

// DecisionEntry is the audit view of a pipeline decision.
type DecisionEntry struct {
	RequestID string    `json:"requestId"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	UserID    string    `json:"userId,omitempty"`
	Allowed   bool      `json:"allowed"`
	Code      ErrorCode `json:"code,omitempty"`
}

// Auditor receives pipeline decisions. Auditor failures never affect the
// decision.
type Auditor interface {
	RecordDecision(ctx context.Context, entry *DecisionEntry)
}

// Orchestrator runs the ordered protection pipeline. Any step failure
// short-circuits: later steps do not run.
type Orchestrator struct {
	matcher   *Matcher
	limiters  *ratelimit.Registry
	csrf      *csrf.Manager
	sessions  *session.Manager
	lockouts  *lockout.Manager
	validator *Validator
	auditor   Auditor
	logger    observability.Logger
	metrics   *Metrics
}

// Option is a functional option for the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger for the orchestrator.
func WithLogger(logger observability.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics for the orchestrator.
func WithMetrics(metrics *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithAuditor sets the decision auditor.
func WithAuditor(auditor Auditor) Option {
	return func(o *Orchestrator) {
		o.auditor = auditor
	}
}

// NewOrchestrator creates the protection pipeline. Route validators are
// compiled up front so a bad expression fails here, not per request.
func NewOrchestrator(
	routes []RouteConfig,
	limiters *ratelimit.Registry,
	csrfManager *csrf.Manager,
	sessions *session.Manager,
	lockouts *lockout.Manager,
	opts ...Option,
) (*Orchestrator, error) {
	matcher, err := NewMatcher(routes)
	if err != nil {
		return nil, err
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	for _, route := range routes {
		if route.CustomValidator == "" {
			continue
		}
		if err := validator.Compile(route.CustomValidator); err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		matcher:   matcher,
		limiters:  limiters,
		csrf:      csrfManager,
		sessions:  sessions,
		lockouts:  lockouts,
		validator: validator,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Protect evaluates the pipeline for a request. On success it returns the
// security context with identity and security headers attached to the
// response; on failure it returns the structured rejection and no later
// step has run.
func (o *Orchestrator) Protect(w http.ResponseWriter, r *http.Request) (*SecurityContext, *SecurityError) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx := observability.ContextWithRequestID(r.Context(), requestID)

	SetSecurityHeaders(w.Header())
	w.Header().Set(HeaderRequestID, requestID)

	route := o.matcher.Resolve(r.URL.Path)
	clientIP := ratelimit.GetClientIP(r)

	// Step 1: rate limit.
	if route.Config.RateLimitCategory != "" {
		if secErr := o.checkRateLimit(ctx, w, r, route, clientIP); secErr != nil {
			return nil, o.reject(ctx, r, route, secErr, requestID, "")
		}
	}

	// Step 2: IP and user agent allowlists.
	if !route.AllowsIP(clientIP) {
		return nil, o.reject(ctx, r, route, NewIPRejectedError(), requestID, "")
	}
	if !route.AllowsUserAgent(r.Header.Get("User-Agent")) {
		return nil, o.reject(ctx, r, route, NewUserAgentRejectedError(), requestID, "")
	}

	// Step 3: CSRF, state-changing methods only.
	if route.Config.CSRFRequired && csrf.RequiresValidation(r.Method) {
		if secErr := o.checkCSRF(ctx, r); secErr != nil {
			return nil, o.reject(ctx, r, route, secErr, requestID, "")
		}
	}

	secCtx := &SecurityContext{
		SecurityLevel: route.Config.SecurityLevel,
		RequestID:     requestID,
		RiskLevel:     session.RiskLow,
	}

	// Step 4: session, lockout, and RBAC. Public routes skip entirely.
	if route.Config.SecurityLevel > authz.LevelPublic {
		secErr := o.authenticate(ctx, r, route, secCtx)
		if secErr != nil {
			userID := ""
			if secCtx.User != nil {
				userID = secCtx.User.ID
			}
			return nil, o.reject(ctx, r, route, secErr, requestID, userID)
		}
	}

	// Step 5: custom validator.
	if route.Config.CustomValidator != "" {
		input := &ValidatorInput{
			Method:    r.Method,
			Path:      r.URL.Path,
			IPAddress: clientIP,
			UserAgent: r.Header.Get("User-Agent"),
			User:      secCtx.User,
			RiskLevel: string(secCtx.RiskLevel),
			RiskScore: secCtx.RiskScore,
		}
		allowed, err := o.validator.Evaluate(route.Config.CustomValidator, input)
		if err != nil {
			o.logger.Error("custom validator failed",
				observability.String("request_id", requestID),
				observability.String("path", r.URL.Path),
				observability.Error(err),
			)
			return nil, o.reject(ctx, r, route, NewInternalError(), requestID, userIDOf(secCtx))
		}
		if !allowed {
			return nil, o.reject(ctx, r, route, NewCustomValidationError(""), requestID, userIDOf(secCtx))
		}
	}

	// Step 6: success, attach identity headers.
	if secCtx.User != nil {
		w.Header().Set(HeaderUserID, secCtx.User.ID)
		w.Header().Set(HeaderUserRole, secCtx.User.Role)
	}
	w.Header().Set(HeaderSecurityLevel, secCtx.SecurityLevel.String())
	w.Header().Set(HeaderRiskLevel, string(secCtx.RiskLevel))

	o.metrics.RecordDecision(route.Config.Path, true, "")
	o.audit(ctx, r, requestID, userIDOf(secCtx), true, "")

	return secCtx, nil
}

// checkRateLimit runs the route's limiter keyed by client IP.
func (o *Orchestrator) checkRateLimit(ctx context.Context, w http.ResponseWriter, r *http.Request, route *Route, clientIP string) *SecurityError {
	if o.limiters == nil {
		return nil
	}

	limiter := o.limiters.Get(route.Config.RateLimitCategory)
	result, err := limiter.Allow(ctx, clientIP)
	if err != nil {
		// Limiters fail open on store errors; an error here is unexpected
		// but still must not block traffic.
		o.logger.Warn("rate limit check failed",
			observability.String("category", route.Config.RateLimitCategory),
			observability.Error(err),
		)
		return nil
	}

	SetRateLimitHeaders(w.Header(), result)

	if !result.Allowed {
		return NewRateLimitError(result.RetryAfter)
	}
	return nil
}

// checkCSRF validates the presented token against the session it is bound
// to. The session identity comes from the verified access token claims.
func (o *Orchestrator) checkCSRF(ctx context.Context, r *http.Request) *SecurityError {
	if o.csrf == nil {
		return nil
	}

	token := o.csrf.ExtractToken(r)
	if token == "" {
		return NewCSRFMissingError()
	}

	sessionID, userID, err := o.sessions.PeekIdentity(ctx, extractAccessToken(r))
	if err != nil {
		return NewCSRFInvalidError()
	}

	if err := o.csrf.ValidateToken(ctx, token, sessionID, userID); err != nil {
		return NewCSRFInvalidError()
	}
	return nil
}

// authenticate validates the session, checks lockout, and compares levels.
func (o *Orchestrator) authenticate(ctx context.Context, r *http.Request, route *Route, secCtx *SecurityContext) *SecurityError {
	accessToken := extractAccessToken(r)
	if accessToken == "" {
		return NewAuthenticationRequiredError()
	}

	v := o.sessions.ValidateSession(ctx, accessToken, r)
	if !v.Valid {
		return NewSessionInvalidError(string(v.Code))
	}

	secCtx.Session = v.Session
	secCtx.User = &session.User{
		ID:    v.Session.UserID,
		Email: v.Session.Email,
		Role:  v.Session.Role,
	}
	secCtx.RiskLevel = v.RiskLevel
	secCtx.RiskScore = v.RiskScore

	status, err := o.lockouts.CheckLockoutStatus(ctx, v.Session.UserID)
	if err != nil {
		return NewInternalError()
	}
	if status.IsLocked {
		return NewAccountLockedError(status.NextAvailableAt)
	}

	userLevel := authz.LevelForRole(v.Session.Role)
	if !userLevel.Allows(route.Config.SecurityLevel) {
		return NewInsufficientPrivilegesError(
			route.Config.SecurityLevel.String(),
			userLevel.String(),
		)
	}
	return nil
}

// reject finalizes a pipeline rejection: request id, log, metrics, audit.
func (o *Orchestrator) reject(ctx context.Context, r *http.Request, route *Route, secErr *SecurityError, requestID, userID string) *SecurityError {
	secErr.RequestID = requestID

	o.logger.Info("request rejected",
		observability.String("request_id", requestID),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.String("code", string(secErr.Code)),
		observability.Int("status", secErr.Status),
	)

	o.metrics.RecordDecision(route.Config.Path, false, string(secErr.Code))
	o.audit(ctx, r, requestID, userID, false, secErr.Code)

	return secErr
}

// audit reports the decision to the auditor, fail-open.
func (o *Orchestrator) audit(ctx context.Context, r *http.Request, requestID, userID string, allowed bool, code ErrorCode) {
	if o.auditor == nil {
		return
	}

	o.auditor.RecordDecision(ctx, &DecisionEntry{
		RequestID: requestID,
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: ratelimit.GetClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		UserID:    userID,
		Allowed:   allowed,
		Code:      code,
	})
}

// extractAccessToken pulls the access token from the Authorization header or
// the session cookie.
func extractAccessToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func userIDOf(secCtx *SecurityContext) string {
	if secCtx == nil || secCtx.User == nil {
		return ""
	}
	return secCtx.User.ID
}
