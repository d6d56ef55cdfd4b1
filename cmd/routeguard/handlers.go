package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routeguard/routeguard/internal/authz"
	"github.com/routeguard/routeguard/internal/guard"
	"github.com/routeguard/routeguard/internal/lockout"
	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/ratelimit"
	"github.com/routeguard/routeguard/internal/session"
)

// loginRequest is the login payload.
type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// refreshRequest is the token refresh payload.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// unlockRequest is the administrative unlock payload.
type unlockRequest struct {
	UserID string `json:"userId" binding:"required"`
	Reason string `json:"reason"`
}

// handleLogin authenticates a user and opens a session. Failed attempts are
// recorded as security violations; a locked account rejects before the
// password is checked. Responses never say whether the account exists.
func (a *application) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	ctx := c.Request.Context()
	ip := ratelimit.GetClientIP(c.Request)
	userAgent := c.Request.UserAgent()

	known, exists := a.users.lookup(req.Email)
	if exists {
		status, err := a.lockouts.CheckLockoutStatus(ctx, known.ID)
		if err == nil && status.IsLocked {
			writeSecurityError(c, guard.NewAccountLockedError(status.NextAvailableAt))
			return
		}
	}

	u, err := a.users.authenticate(req.Email, req.Password)
	if err != nil {
		if exists {
			_, _ = a.lockouts.RecordSecurityViolation(ctx, known.ID, lockout.ViolationBruteForce,
				ip, userAgent, map[string]string{"email": req.Email})
		}
		a.limiters.Get(ratelimit.CategoryLogin).RecordFailure(ctx, ip)
		a.logger.Warn("login failed",
			observability.String("ip", ip),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := a.sessions.CreateSession(ctx, &session.User{
		ID:    u.ID,
		Email: u.Email,
		Role:  u.Role,
	}, c.Request, nil)
	if err != nil {
		a.logger.Error("failed to create session", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	csrfToken, err := a.csrf.GenerateToken(ctx, tokens.SessionID, u.ID)
	if err != nil {
		a.logger.Error("failed to generate csrf token", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	a.csrf.SetTokenCookie(c.Writer, csrfToken)

	c.SetCookie(guard.SessionCookieName, tokens.AccessToken,
		int(a.config.Session.AccessTokenTTL.Duration().Seconds()), "/", "", a.config.CSRF.CookieSecure, true)

	// A successful login does not count toward the login limit when the
	// category skips successful requests.
	a.limiters.Get(ratelimit.CategoryLogin).RecordSuccess(ctx, ip)

	c.JSON(http.StatusOK, gin.H{
		"sessionId":        tokens.SessionID,
		"accessToken":      tokens.AccessToken,
		"refreshToken":     tokens.RefreshToken,
		"accessExpiresAt":  tokens.AccessExpiresAt,
		"refreshExpiresAt": tokens.RefreshExpiresAt,
		"csrfToken":        csrfToken,
	})
}

// handleRefresh exchanges a refresh token for a new access token.
func (a *application) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}

	accessToken, err := a.sessions.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token rejected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accessToken": accessToken})
}

// handleLogout terminates the calling session and its CSRF tokens.
func (a *application) handleLogout(c *gin.Context) {
	secCtx, ok := guard.FromGinContext(c)
	if !ok || secCtx.Session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	sessionID := secCtx.Session.ID
	if err := a.sessions.TerminateSession(c.Request.Context(), sessionID); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) {
		a.logger.Error("failed to terminate session", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	a.csrf.InvalidateSessionTokens(sessionID)

	c.SetCookie(guard.SessionCookieName, "", -1, "/", "", a.config.CSRF.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// handleCSRFToken issues a fresh CSRF token bound to the calling session.
func (a *application) handleCSRFToken(c *gin.Context) {
	secCtx, ok := guard.FromGinContext(c)
	if !ok || secCtx.Session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	token, err := a.csrf.GenerateToken(c.Request.Context(), secCtx.Session.ID, secCtx.User.ID)
	if err != nil {
		a.logger.Error("failed to generate csrf token", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	a.csrf.SetTokenCookie(c.Writer, token)

	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// handleListSessions lists the caller's active sessions.
func (a *application) handleListSessions(c *gin.Context) {
	secCtx, ok := guard.FromGinContext(c)
	if !ok || secCtx.User == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	records, err := a.sessions.GetUserSessions(c.Request.Context(), secCtx.User.ID)
	if err != nil {
		a.logger.Error("failed to list sessions", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": records})
}

// handleTerminateSession terminates one of the caller's sessions. Admins may
// terminate any session.
func (a *application) handleTerminateSession(c *gin.Context) {
	secCtx, ok := guard.FromGinContext(c)
	if !ok || secCtx.User == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	sessionID := c.Param("id")

	if !authz.LevelForRole(secCtx.User.Role).Allows(authz.LevelAdmin) {
		owned, err := a.sessions.GetUserSessions(c.Request.Context(), secCtx.User.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		found := false
		for _, r := range owned {
			if r.ID == sessionID {
				found = true
				break
			}
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
	}

	if err := a.sessions.TerminateSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		a.logger.Error("failed to terminate session", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	a.csrf.InvalidateSessionTokens(sessionID)

	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}

// handleWhoAmI returns the caller's identity and risk assessment.
func (a *application) handleWhoAmI(c *gin.Context) {
	secCtx, ok := guard.FromGinContext(c)
	if !ok || secCtx.User == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    secCtx.User.ID,
		"email":     secCtx.User.Email,
		"role":      secCtx.User.Role,
		"riskLevel": secCtx.RiskLevel,
		"riskScore": secCtx.RiskScore,
	})
}

// handleUnlock clears an account lockout. The route configuration restricts
// this endpoint to admins.
func (a *application) handleUnlock(c *gin.Context) {
	secCtx, ok := guard.FromGinContext(c)
	if !ok || secCtx.User == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	if err := a.lockouts.UnlockAccount(c.Request.Context(), req.UserID, req.Reason, secCtx.User.ID); err != nil {
		a.logger.Error("failed to unlock account", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unlocked"})
}

// handleListViolations lists recorded violations for an account.
func (a *application) handleListViolations(c *gin.Context) {
	violations := a.lockouts.ListViolations(c.Param("userID"))
	c.JSON(http.StatusOK, gin.H{"violations": violations})
}

// writeSecurityError renders a pipeline-style rejection from a handler.
func writeSecurityError(c *gin.Context, secErr *guard.SecurityError) {
	c.JSON(secErr.Status, secErr)
}
