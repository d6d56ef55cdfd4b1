// Package lockout provides progressive account lockout driven by recorded
// security violations.
package lockout

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType classifies a recorded security violation.
type ViolationType string

// Violation types.
const (
	ViolationBruteForce        ViolationType = "brute_force"
	ViolationAccountTakeover   ViolationType = "account_takeover"
	ViolationSuspiciousLogin   ViolationType = "suspicious_login"
	ViolationInvalidSession    ViolationType = "invalid_session"
	ViolationRateLimitExceeded ViolationType = "rate_limit_exceeded"
)

// Severity grades a violation.
type Severity string

// Severity levels, ordered low to critical.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric order of the severity.
func (s Severity) Rank() int {
	return severityRank[s]
}

// bump raises the severity by one level, saturating at critical.
func (s Severity) bump() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// maxSeverity returns the higher of two severities.
func maxSeverity(a, b Severity) Severity {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// ViolationStatus is the lifecycle state of a violation.
type ViolationStatus string

// Violation statuses. A violation only ever moves from active to resolved.
const (
	StatusActive   ViolationStatus = "active"
	StatusResolved ViolationStatus = "resolved"
)

// Violation is a recorded security violation against a user account.
type Violation struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	Type       ViolationType     `json:"type"`
	Severity   Severity          `json:"severity"`
	Status     ViolationStatus   `json:"status"`
	IPAddress  string            `json:"ipAddress,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty"`
	ResolvedBy string            `json:"resolvedBy,omitempty"`
	Resolution string            `json:"resolution,omitempty"`
}

// newViolation creates an active violation with a fresh identifier.
func newViolation(userID string, vtype ViolationType, severity Severity, ip, userAgent string, metadata map[string]string) *Violation {
	return &Violation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      vtype,
		Severity:  severity,
		Status:    StatusActive,
		IPAddress: ip,
		UserAgent: userAgent,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// baseSeverity returns the severity assigned to a violation type before
// escalation.
func baseSeverity(vtype ViolationType) Severity {
	switch vtype {
	case ViolationBruteForce, ViolationAccountTakeover:
		return SeverityCritical
	case ViolationSuspiciousLogin:
		return SeverityHigh
	case ViolationInvalidSession:
		return SeverityMedium
	case ViolationRateLimitExceeded:
		return SeverityLow
	default:
		return SeverityMedium
	}
}
