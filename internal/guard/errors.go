package guard

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode classifies a pipeline rejection.
type ErrorCode string

// Pipeline rejection codes.
const (
	CodeRateLimitExceeded      ErrorCode = "rate_limit_exceeded"
	CodeIPRejected             ErrorCode = "ip_rejected"
	CodeUserAgentRejected      ErrorCode = "user_agent_rejected"
	CodeCSRFMissing            ErrorCode = "csrf_missing"
	CodeCSRFInvalid            ErrorCode = "csrf_invalid"
	CodeAuthenticationRequired ErrorCode = "authentication_required"
	CodeSessionInvalid         ErrorCode = "session_invalid"
	CodeAccountLocked          ErrorCode = "account_locked"
	CodeInsufficientPrivileges ErrorCode = "insufficient_privileges"
	CodeCustomValidationFailed ErrorCode = "custom_validation_failed"
	CodeInternal               ErrorCode = "internal_error"
)

// SecurityError is a structured pipeline rejection. The response never
// reveals whether a given account exists.
type SecurityError struct {
	// Code classifies the rejection.
	Code ErrorCode `json:"code"`

	// Message is the user-visible message.
	Message string `json:"message"`

	// Status is the HTTP status to respond with.
	Status int `json:"-"`

	// RequestID correlates the rejection with logs.
	RequestID string `json:"requestId,omitempty"`

	// RetryAfter is set for rate limit rejections.
	RetryAfter time.Duration `json:"retryAfter,omitempty"`

	// NextAvailableAt is set for lockout rejections.
	NextAvailableAt *time.Time `json:"nextAvailableAt,omitempty"`

	// Required and Actual are set for privilege rejections.
	Required string `json:"required,omitempty"`
	Actual   string `json:"actual,omitempty"`

	// Detail carries the session failure mode for session rejections.
	Detail string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRateLimitError creates a rate limit rejection.
func NewRateLimitError(retryAfter time.Duration) *SecurityError {
	return &SecurityError{
		Code:       CodeRateLimitExceeded,
		Message:    "too many requests",
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// NewIPRejectedError creates an IP allowlist rejection.
func NewIPRejectedError() *SecurityError {
	return &SecurityError{
		Code:    CodeIPRejected,
		Message: "access denied",
		Status:  http.StatusForbidden,
	}
}

// NewUserAgentRejectedError creates a user agent allowlist rejection.
func NewUserAgentRejectedError() *SecurityError {
	return &SecurityError{
		Code:    CodeUserAgentRejected,
		Message: "access denied",
		Status:  http.StatusForbidden,
	}
}

// NewCSRFMissingError creates a missing CSRF token rejection.
func NewCSRFMissingError() *SecurityError {
	return &SecurityError{
		Code:    CodeCSRFMissing,
		Message: "csrf token required",
		Status:  http.StatusForbidden,
	}
}

// NewCSRFInvalidError creates an invalid CSRF token rejection.
func NewCSRFInvalidError() *SecurityError {
	return &SecurityError{
		Code:    CodeCSRFInvalid,
		Message: "csrf token invalid",
		Status:  http.StatusForbidden,
	}
}

// NewAuthenticationRequiredError creates an unauthenticated rejection.
func NewAuthenticationRequiredError() *SecurityError {
	return &SecurityError{
		Code:    CodeAuthenticationRequired,
		Message: "authentication required",
		Status:  http.StatusUnauthorized,
	}
}

// NewSessionInvalidError creates a session rejection carrying the failure
// mode.
func NewSessionInvalidError(detail string) *SecurityError {
	return &SecurityError{
		Code:    CodeSessionInvalid,
		Message: "session invalid",
		Status:  http.StatusUnauthorized,
		Detail:  detail,
	}
}

// NewAccountLockedError creates a lockout rejection.
func NewAccountLockedError(nextAvailableAt *time.Time) *SecurityError {
	return &SecurityError{
		Code:            CodeAccountLocked,
		Message:         "account temporarily locked",
		Status:          http.StatusLocked,
		NextAvailableAt: nextAvailableAt,
	}
}

// NewInsufficientPrivilegesError creates a privilege rejection.
func NewInsufficientPrivilegesError(required, actual string) *SecurityError {
	return &SecurityError{
		Code:     CodeInsufficientPrivileges,
		Message:  "insufficient privileges",
		Status:   http.StatusForbidden,
		Required: required,
		Actual:   actual,
	}
}

// NewCustomValidationError creates a custom validator rejection.
func NewCustomValidationError(message string) *SecurityError {
	if message == "" {
		message = "request rejected"
	}
	return &SecurityError{
		Code:    CodeCustomValidationFailed,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

// NewInternalError creates an unexpected internal fault rejection.
func NewInternalError() *SecurityError {
	return &SecurityError{
		Code:    CodeInternal,
		Message: "internal error",
		Status:  http.StatusInternalServerError,
	}
}
