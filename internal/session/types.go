// Package session provides signed access/refresh token sessions with
// context-aware risk scoring.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// User identifies an authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SecurityContext captures the request context a session is bound to.
type SecurityContext struct {
	IPAddress   string `json:"ipAddress"`
	UserAgent   string `json:"userAgent"`
	Fingerprint string `json:"fingerprint"`
	Location    string `json:"location,omitempty"`
}

// Record is a live session. A record lives until logout, high-risk
// termination, eviction, or ExpiresAt, whichever comes first.
type Record struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Email        string            `json:"email"`
	Role         string            `json:"role"`
	Context      SecurityContext   `json:"context"`
	Extra        map[string]string `json:"extra,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// Expired reports whether the record has passed its expiry.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Tokens is the signed token pair issued for a session.
type Tokens struct {
	SessionID        string    `json:"sessionId"`
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Validation is the outcome of a session validation.
type Validation struct {
	Valid     bool      `json:"valid"`
	Session   *Record   `json:"session,omitempty"`
	Code      Code      `json:"code,omitempty"`
	Err       error     `json:"-"`
	RiskLevel RiskLevel `json:"riskLevel"`
	RiskScore int       `json:"riskScore"`
}

// Fingerprint computes the deterministic device fingerprint for a request.
// It hashes the headers that identify the client software, not the request
// content.
func Fingerprint(r *http.Request) string {
	h := sha256.New()
	for _, name := range []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"} {
		h.Write([]byte(r.Header.Get(name)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
