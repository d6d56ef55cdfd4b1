package csrf

import "errors"

// Sentinel errors for CSRF token operations.
var (
	// ErrTokenNotFound indicates that the token is unknown.
	ErrTokenNotFound = errors.New("csrf token not found")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("csrf token has expired")

	// ErrSessionMismatch indicates that the token is bound to another session.
	ErrSessionMismatch = errors.New("csrf token session mismatch")

	// ErrUserMismatch indicates that the token is bound to another user.
	ErrUserMismatch = errors.New("csrf token user mismatch")

	// ErrEmptyToken indicates that no token was supplied.
	ErrEmptyToken = errors.New("csrf token is empty")

	// ErrEmptySessionID indicates that no session identifier was supplied.
	ErrEmptySessionID = errors.New("session identifier is empty")
)
