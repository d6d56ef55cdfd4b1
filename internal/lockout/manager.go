package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/routeguard/routeguard/internal/observability"
)

// Default manager settings.
const (
	// DefaultMaxFailedAttempts locks the account when reached.
	DefaultMaxFailedAttempts = 5

	// DefaultNotificationThreshold moves the account to the warning state.
	DefaultNotificationThreshold = 3

	// DefaultAttemptWindow is the rolling window for counting violations.
	DefaultAttemptWindow = 15 * time.Minute

	// DefaultMaxLockoutDuration caps any single lockout.
	DefaultMaxLockoutDuration = 24 * time.Hour
)

// DefaultBackoffTable is the lockout duration per cumulative lockout count.
var DefaultBackoffTable = []time.Duration{
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
	120 * time.Minute,
	240 * time.Minute,
	480 * time.Minute,
	1440 * time.Minute,
}

// AccountState is the lockout state of an account.
type AccountState string

// Account states.
const (
	StateClear   AccountState = "clear"
	StateWarning AccountState = "warning"
	StateLocked  AccountState = "locked"
)

// Status is the lockout status of an account.
type Status struct {
	UserID          string       `json:"userId"`
	State           AccountState `json:"state"`
	IsLocked        bool         `json:"isLocked"`
	FailedAttempts  int          `json:"failedAttempts"`
	NextAvailableAt *time.Time   `json:"nextAvailableAt,omitempty"`
	Severity        Severity     `json:"severity,omitempty"`
	LockoutCount    int          `json:"lockoutCount"`
}

// ViolationSink receives recorded violations for durable audit. Sink failures
// never block or fail the recording path.
type ViolationSink interface {
	RecordViolation(ctx context.Context, violation *Violation)
}

// Config contains lockout manager configuration.
type Config struct {
	// MaxFailedAttempts locks the account when the rolling window holds this
	// many active violations.
	MaxFailedAttempts int `yaml:"maxFailedAttempts"`

	// NotificationThreshold moves the account to the warning state.
	NotificationThreshold int `yaml:"notificationThreshold"`

	// AttemptWindow is the rolling window for counting violations.
	AttemptWindow time.Duration `yaml:"attemptWindow"`

	// BackoffTable holds lockout durations indexed by cumulative lockout
	// count. Durations must be non-decreasing.
	BackoffTable []time.Duration `yaml:"backoffTable"`

	// MaxLockoutDuration caps any single lockout.
	MaxLockoutDuration time.Duration `yaml:"maxLockoutDuration"`
}

// DefaultConfig returns the default lockout configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxFailedAttempts:     DefaultMaxFailedAttempts,
		NotificationThreshold: DefaultNotificationThreshold,
		AttemptWindow:         DefaultAttemptWindow,
		BackoffTable:          DefaultBackoffTable,
		MaxLockoutDuration:    DefaultMaxLockoutDuration,
	}
}

// userState is the per-account lockout state.
type userState struct {
	violations   []*Violation
	lockoutCount int
	lockedUntil  time.Time
}

// Manager tracks security violations and applies progressive lockout.
type Manager struct {
	config  *Config
	logger  observability.Logger
	metrics *Metrics
	sink    ViolationSink

	mu    sync.RWMutex
	users map[string]*userState
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

// WithViolationSink sets the audit sink for recorded violations.
func WithViolationSink(sink ViolationSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// NewManager creates a new lockout manager.
func NewManager(config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if config.NotificationThreshold <= 0 {
		config.NotificationThreshold = DefaultNotificationThreshold
	}
	if config.AttemptWindow <= 0 {
		config.AttemptWindow = DefaultAttemptWindow
	}
	if len(config.BackoffTable) == 0 {
		config.BackoffTable = DefaultBackoffTable
	}
	if config.MaxLockoutDuration <= 0 {
		config.MaxLockoutDuration = DefaultMaxLockoutDuration
	}

	m := &Manager{
		config: config,
		logger: observability.NopLogger(),
		users:  make(map[string]*userState),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CheckLockoutStatus returns the current lockout status for the user. An
// elapsed lockout is cleared at read.
func (m *Manager) CheckLockoutStatus(ctx context.Context, userID string) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.users[userID]
	if !ok {
		return &Status{UserID: userID, State: StateClear}, nil
	}

	if !state.lockedUntil.IsZero() && now.After(state.lockedUntil) {
		state.lockedUntil = time.Time{}

		m.logger.Info("lockout expired",
			observability.String("user_id", userID),
		)
	}

	active, severity := m.activeInWindow(state, now)

	status := &Status{
		UserID:         userID,
		State:          StateClear,
		FailedAttempts: active,
		Severity:       severity,
		LockoutCount:   state.lockoutCount,
	}

	switch {
	case !state.lockedUntil.IsZero():
		status.State = StateLocked
		status.IsLocked = true
		until := state.lockedUntil
		status.NextAvailableAt = &until
	case active >= m.config.NotificationThreshold:
		status.State = StateWarning
	}

	return status, nil
}

// RecordSecurityViolation records a violation against the user, escalating
// severity by recent attempt count and re-evaluating lockout.
func (m *Manager) RecordSecurityViolation(
	ctx context.Context,
	userID string,
	vtype ViolationType,
	ip, userAgent string,
	metadata map[string]string,
) (*Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()

	m.mu.Lock()
	state, ok := m.users[userID]
	if !ok {
		state = &userState{}
		m.users[userID] = state
	}

	if !state.lockedUntil.IsZero() && now.After(state.lockedUntil) {
		state.lockedUntil = time.Time{}
	}

	recent, _ := m.activeInWindow(state, now)
	severity := escalate(baseSeverity(vtype), recent+1)

	violation := newViolation(userID, vtype, severity, ip, userAgent, metadata)
	state.violations = append(state.violations, violation)

	recorded := []*Violation{violation}

	active, _ := m.activeInWindow(state, now)
	if active >= m.config.MaxFailedAttempts && state.lockedUntil.IsZero() {
		if synthetic := m.lock(state, userID, vtype, ip, userAgent, now); synthetic != nil {
			recorded = append(recorded, synthetic)
		}
	}
	m.mu.Unlock()

	m.metrics.RecordViolation(string(vtype), string(severity))

	m.logger.Warn("security violation recorded",
		observability.String("user_id", userID),
		observability.String("type", string(vtype)),
		observability.String("severity", string(severity)),
		observability.String("ip", ip),
	)

	if m.sink != nil {
		for _, v := range recorded {
			m.sink.RecordViolation(ctx, v)
		}
	}

	return violation, nil
}

// UnlockAccount clears the lockout and resolves all active violations.
func (m *Manager) UnlockAccount(ctx context.Context, userID, reason, unlockedBy string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()

	m.mu.Lock()
	state, ok := m.users[userID]
	if ok {
		state.lockedUntil = time.Time{}
		for _, v := range state.violations {
			if v.Status == StatusActive {
				v.Status = StatusResolved
				resolvedAt := now
				v.ResolvedAt = &resolvedAt
				v.ResolvedBy = unlockedBy
				v.Resolution = reason
			}
		}
	}
	m.mu.Unlock()

	m.metrics.RecordUnlock()

	m.logger.Info("account unlocked",
		observability.String("user_id", userID),
		observability.String("reason", reason),
		observability.String("unlocked_by", unlockedBy),
	)

	return nil
}

// ListViolations returns a copy of all violations recorded for the user,
// oldest first.
func (m *Manager) ListViolations(userID string) []*Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.users[userID]
	if !ok {
		return nil
	}

	out := make([]*Violation, len(state.violations))
	for i, v := range state.violations {
		c := *v
		out[i] = &c
	}
	return out
}

// LockoutDuration returns the backoff duration for the given cumulative
// lockout count (1-based). Durations never decrease and never exceed the
// configured cap.
func (m *Manager) LockoutDuration(lockoutCount int) time.Duration {
	if lockoutCount < 1 {
		lockoutCount = 1
	}
	idx := lockoutCount - 1
	if idx >= len(m.config.BackoffTable) {
		idx = len(m.config.BackoffTable) - 1
	}
	d := m.config.BackoffTable[idx]
	if d > m.config.MaxLockoutDuration {
		d = m.config.MaxLockoutDuration
	}
	return d
}

// lock transitions the account to locked, synthesizing a brute_force
// violation when the trigger was not itself brute force. Caller holds the
// write lock.
func (m *Manager) lock(state *userState, userID string, trigger ViolationType, ip, userAgent string, now time.Time) *Violation {
	var synthetic *Violation
	if trigger != ViolationBruteForce {
		synthetic = newViolation(userID, ViolationBruteForce, SeverityCritical, ip, userAgent, map[string]string{
			"trigger": string(trigger),
		})
		state.violations = append(state.violations, synthetic)
	}

	state.lockoutCount++
	state.lockedUntil = now.Add(m.LockoutDuration(state.lockoutCount))

	m.metrics.RecordLockout()

	m.logger.Warn("account locked",
		observability.String("user_id", userID),
		observability.Int("lockout_count", state.lockoutCount),
		observability.Time("locked_until", state.lockedUntil),
	)

	return synthetic
}

// activeInWindow counts active violations inside the rolling window and
// returns the highest severity among them. Caller holds at least a read lock.
func (m *Manager) activeInWindow(state *userState, now time.Time) (int, Severity) {
	cutoff := now.Add(-m.config.AttemptWindow)

	count := 0
	var severity Severity
	for _, v := range state.violations {
		if v.Status != StatusActive || v.CreatedAt.Before(cutoff) {
			continue
		}
		count++
		if severity == "" {
			severity = v.Severity
		} else {
			severity = maxSeverity(severity, v.Severity)
		}
	}
	return count, severity
}

// escalate raises the base severity using the recent attempt count.
func escalate(base Severity, recentAttempts int) Severity {
	switch {
	case recentAttempts >= 10:
		return SeverityCritical
	case recentAttempts >= 5:
		return maxSeverity(base, SeverityHigh)
	case recentAttempts >= 3:
		return base.bump()
	default:
		return base
	}
}
