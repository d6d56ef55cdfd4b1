package session

import (
	"errors"

	"github.com/routeguard/routeguard/internal/auth/token"
)

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound indicates that no live session matches the token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates that the session passed its expiry and
	// was destroyed.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionHighRisk indicates that validation scored the request as
	// high risk and the session was terminated.
	ErrSessionHighRisk = errors.New("session rejected as high risk")

	// ErrNilUser indicates that session creation was given no user.
	ErrNilUser = errors.New("user is nil")
)

// Code classifies a session validation failure. Each failure mode is a
// separate recoverable case, not a generic error.
type Code string

// Validation failure codes.
const (
	CodeNone         Code = ""
	CodeMalformed    Code = "token_malformed"
	CodeExpired      Code = "token_expired"
	CodeBadSignature Code = "token_bad_signature"
	CodeBadAudience  Code = "token_bad_audience"
	CodeNotFound     Code = "session_not_found"
	CodeHighRisk     Code = "session_high_risk"
)

// codeForTokenError maps token verification errors to validation codes.
func codeForTokenError(err error) Code {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return CodeExpired
	case errors.Is(err, token.ErrTokenInvalidSignature):
		return CodeBadSignature
	case errors.Is(err, token.ErrTokenInvalidAudience):
		return CodeBadAudience
	default:
		return CodeMalformed
	}
}
