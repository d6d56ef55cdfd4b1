package session

import "time"

// RiskLevel grades a validation by its risk score.
type RiskLevel string

// Risk levels.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Default risk scoring weights and thresholds.
const (
	DefaultWeightIPChange          = 30
	DefaultWeightUserAgentChange   = 20
	DefaultWeightFingerprintChange = 25
	DefaultWeightLocationChange    = 40
	DefaultWeightInactivity        = 15

	DefaultInactivityGap = time.Hour

	DefaultMediumRiskThreshold = 30
	DefaultHighRiskThreshold   = 60
)

// RiskConfig contains risk scoring weights and thresholds.
type RiskConfig struct {
	WeightIPChange          int `yaml:"weightIPChange"`
	WeightUserAgentChange   int `yaml:"weightUserAgentChange"`
	WeightFingerprintChange int `yaml:"weightFingerprintChange"`
	WeightLocationChange    int `yaml:"weightLocationChange"`
	WeightInactivity        int `yaml:"weightInactivity"`

	// InactivityGap is the activity gap beyond which the inactivity weight
	// applies.
	InactivityGap time.Duration `yaml:"inactivityGap"`

	MediumRiskThreshold int `yaml:"mediumRiskThreshold"`
	HighRiskThreshold   int `yaml:"highRiskThreshold"`
}

// DefaultRiskConfig returns the default risk configuration.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		WeightIPChange:          DefaultWeightIPChange,
		WeightUserAgentChange:   DefaultWeightUserAgentChange,
		WeightFingerprintChange: DefaultWeightFingerprintChange,
		WeightLocationChange:    DefaultWeightLocationChange,
		WeightInactivity:        DefaultWeightInactivity,
		InactivityGap:           DefaultInactivityGap,
		MediumRiskThreshold:     DefaultMediumRiskThreshold,
		HighRiskThreshold:       DefaultHighRiskThreshold,
	}
}

// Score computes the additive risk score of a request context against the
// stored session context. Scoring is deterministic: the same inputs always
// produce the same score.
func (c *RiskConfig) Score(stored, current SecurityContext, lastActivity, now time.Time) int {
	score := 0

	if stored.IPAddress != "" && current.IPAddress != "" && stored.IPAddress != current.IPAddress {
		score += c.WeightIPChange
	}
	if stored.UserAgent != "" && current.UserAgent != "" && stored.UserAgent != current.UserAgent {
		score += c.WeightUserAgentChange
	}
	if stored.Fingerprint != "" && current.Fingerprint != "" && stored.Fingerprint != current.Fingerprint {
		score += c.WeightFingerprintChange
	}
	if stored.Location != "" && current.Location != "" && stored.Location != current.Location {
		score += c.WeightLocationChange
	}
	if !lastActivity.IsZero() && now.Sub(lastActivity) > c.InactivityGap {
		score += c.WeightInactivity
	}

	return score
}

// Level maps a score to a risk level.
func (c *RiskConfig) Level(score int) RiskLevel {
	switch {
	case score >= c.HighRiskThreshold:
		return RiskHigh
	case score >= c.MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
