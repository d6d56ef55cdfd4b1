package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Status Tests
// ============================================================================

func TestCheckLockoutStatus_UnknownUser(t *testing.T) {
	m := NewManager(nil)

	status, err := m.CheckLockoutStatus(context.Background(), "nobody")
	require.NoError(t, err)

	assert.Equal(t, StateClear, status.State)
	assert.False(t, status.IsLocked)
	assert.Zero(t, status.FailedAttempts)
	assert.Nil(t, status.NextAvailableAt)
}

func TestCheckLockoutStatus_WarningState(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.RecordSecurityViolation(ctx, "user-1", ViolationRateLimitExceeded, "1.2.3.4", "ua", nil)
		require.NoError(t, err)
	}

	status, err := m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, StateWarning, status.State)
	assert.False(t, status.IsLocked)
	assert.Equal(t, 3, status.FailedAttempts)
}

// Five invalid_session violations inside the window lock the account with a
// synthetic brute_force violation and a first-tier backoff.
func TestLockout_SyntheticBruteForce(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.RecordSecurityViolation(ctx, "user-1", ViolationInvalidSession, "1.2.3.4", "ua", nil)
		require.NoError(t, err)
	}

	status, err := m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)

	assert.True(t, status.IsLocked)
	assert.Equal(t, StateLocked, status.State)
	assert.Equal(t, 1, status.LockoutCount)

	require.NotNil(t, status.NextAvailableAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *status.NextAvailableAt, 5*time.Second)

	violations := m.ListViolations("user-1")
	var bruteForce *Violation
	for _, v := range violations {
		if v.Type == ViolationBruteForce {
			bruteForce = v
		}
	}
	require.NotNil(t, bruteForce)
	assert.Equal(t, SeverityCritical, bruteForce.Severity)
	assert.Equal(t, "invalid_session", bruteForce.Metadata["trigger"])
}

func TestLockout_LazyExpiry(t *testing.T) {
	m := NewManager(&Config{
		MaxFailedAttempts: 2,
		BackoffTable:      []time.Duration{30 * time.Millisecond},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.RecordSecurityViolation(ctx, "user-1", ViolationInvalidSession, "1.2.3.4", "ua", nil)
		require.NoError(t, err)
	}

	status, err := m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, status.IsLocked)

	time.Sleep(50 * time.Millisecond)

	status, err = m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Equal(t, 1, status.LockoutCount)
}

// ============================================================================
// Severity Tests
// ============================================================================

func TestBaseSeverity(t *testing.T) {
	tests := []struct {
		vtype ViolationType
		want  Severity
	}{
		{ViolationBruteForce, SeverityCritical},
		{ViolationAccountTakeover, SeverityCritical},
		{ViolationSuspiciousLogin, SeverityHigh},
		{ViolationInvalidSession, SeverityMedium},
		{ViolationRateLimitExceeded, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.vtype), func(t *testing.T) {
			assert.Equal(t, tt.want, baseSeverity(tt.vtype))
		})
	}
}

func TestEscalate(t *testing.T) {
	tests := []struct {
		name     string
		base     Severity
		attempts int
		want     Severity
	}{
		{name: "no escalation", base: SeverityLow, attempts: 1, want: SeverityLow},
		{name: "bump at three", base: SeverityLow, attempts: 3, want: SeverityMedium},
		{name: "bump saturates", base: SeverityCritical, attempts: 3, want: SeverityCritical},
		{name: "high at five", base: SeverityLow, attempts: 5, want: SeverityHigh},
		{name: "high never lowers critical", base: SeverityCritical, attempts: 5, want: SeverityCritical},
		{name: "critical at ten", base: SeverityLow, attempts: 10, want: SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escalate(tt.base, tt.attempts))
		})
	}
}

// ============================================================================
// Backoff Tests
// ============================================================================

func TestLockoutDuration_MonotonicAndCapped(t *testing.T) {
	m := NewManager(&Config{
		MaxLockoutDuration: 8 * time.Hour,
	})

	var prev time.Duration
	for count := 1; count <= 10; count++ {
		d := m.LockoutDuration(count)
		assert.GreaterOrEqual(t, d, prev, "duration must not decrease at count %d", count)
		assert.LessOrEqual(t, d, 8*time.Hour)
		prev = d
	}

	assert.Equal(t, 15*time.Minute, m.LockoutDuration(1))
	assert.Equal(t, 30*time.Minute, m.LockoutDuration(2))
	// Table exhausted: the last tier applies, capped at the maximum.
	assert.Equal(t, 8*time.Hour, m.LockoutDuration(7))
	assert.Equal(t, 8*time.Hour, m.LockoutDuration(100))
}

func TestProgressiveBackoff(t *testing.T) {
	m := NewManager(&Config{
		MaxFailedAttempts: 1,
		BackoffTable:      []time.Duration{10 * time.Millisecond, time.Hour},
	})
	ctx := context.Background()

	_, err := m.RecordSecurityViolation(ctx, "user-1", ViolationBruteForce, "1.2.3.4", "ua", nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// Second lockout picks the second tier.
	_, err = m.RecordSecurityViolation(ctx, "user-1", ViolationBruteForce, "1.2.3.4", "ua", nil)
	require.NoError(t, err)

	status, err := m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	assert.Equal(t, 2, status.LockoutCount)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *status.NextAvailableAt, 5*time.Second)
}

// ============================================================================
// Unlock Tests
// ============================================================================

func TestUnlockAccount(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.RecordSecurityViolation(ctx, "user-1", ViolationInvalidSession, "1.2.3.4", "ua", nil)
		require.NoError(t, err)
	}

	status, err := m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, status.IsLocked)

	require.NoError(t, m.UnlockAccount(ctx, "user-1", "verified by support", "admin-1"))

	status, err = m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Equal(t, StateClear, status.State)
	assert.Zero(t, status.FailedAttempts)

	for _, v := range m.ListViolations("user-1") {
		assert.Equal(t, StatusResolved, v.Status)
		assert.Equal(t, "admin-1", v.ResolvedBy)
		assert.Equal(t, "verified by support", v.Resolution)
		assert.NotNil(t, v.ResolvedAt)
	}
}

func TestUnlockAccount_UnknownUser(t *testing.T) {
	m := NewManager(nil)

	assert.NoError(t, m.UnlockAccount(context.Background(), "nobody", "reason", "admin"))
}

// ============================================================================
// Sink and Concurrency Tests
// ============================================================================

type captureSink struct {
	mu         sync.Mutex
	violations []*Violation
}

func (s *captureSink) RecordViolation(_ context.Context, v *Violation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, v)
}

func TestViolationSink_ReceivesSynthetic(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(&Config{MaxFailedAttempts: 2}, WithViolationSink(sink))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.RecordSecurityViolation(ctx, "user-1", ViolationInvalidSession, "1.2.3.4", "ua", nil)
		require.NoError(t, err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	// Two recorded violations plus the synthetic brute_force.
	require.Len(t, sink.violations, 3)
	assert.Equal(t, ViolationBruteForce, sink.violations[2].Type)
}

func TestRecordSecurityViolation_Concurrent(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RecordSecurityViolation(ctx, "user-1", ViolationRateLimitExceeded, "1.2.3.4", "ua", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status, err := m.CheckLockoutStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.IsLocked)

	// All writes landed despite contention.
	violations := m.ListViolations("user-1")
	assert.GreaterOrEqual(t, len(violations), 20)
}
