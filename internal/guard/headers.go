package guard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/routeguard/routeguard/internal/ratelimit"
)

// Response header names.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderUserID        = "X-User-ID"
	HeaderUserRole      = "X-User-Role"
	HeaderSecurityLevel = "X-Security-Level"
	HeaderRiskLevel     = "X-Risk-Level"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// SetSecurityHeaders attaches the baseline security headers to a response.
func SetSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// SetRateLimitHeaders attaches the rate limit headers for a check result.
func SetRateLimitHeaders(h http.Header, result *ratelimit.Result) {
	if result == nil {
		return
	}

	h.Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))

	if !result.Allowed {
		seconds := int(result.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		h.Set(HeaderRetryAfter, strconv.Itoa(seconds))
	}
}
