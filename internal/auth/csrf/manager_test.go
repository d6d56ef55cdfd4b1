package csrf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, config *Config) *Manager {
	t.Helper()

	m := NewManager(config)
	t.Cleanup(m.Close)
	return m
}

// ============================================================================
// Generation Tests
// ============================================================================

func TestGenerateToken(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	tok, err := m.GenerateToken(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	other, err := m.GenerateToken(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestGenerateToken_EmptySession(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.GenerateToken(context.Background(), "", "user-1")
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestGenerateToken_CapEvictsOldest(t *testing.T) {
	m := newTestManager(t, &Config{MaxTokensPerSession: 3})
	ctx := context.Background()

	tokens := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		tok, err := m.GenerateToken(ctx, "sess-1", "user-1")
		require.NoError(t, err)
		tokens = append(tokens, tok)
	}

	assert.Equal(t, 3, m.SessionTokenCount("sess-1"))

	// The first token was evicted, the rest remain valid.
	err := m.ValidateToken(ctx, tokens[0], "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	for _, tok := range tokens[1:] {
		assert.NoError(t, m.ValidateToken(ctx, tok, "sess-1", "user-1"))
	}
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestValidateToken(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	tok, err := m.GenerateToken(ctx, "sess-1", "user-1")
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		sessionID string
		userID    string
		wantErr   error
	}{
		{
			name:      "valid",
			token:     tok,
			sessionID: "sess-1",
			userID:    "user-1",
		},
		{
			name:      "valid without user check",
			token:     tok,
			sessionID: "sess-1",
			userID:    "",
		},
		{
			name:      "empty token",
			token:     "",
			sessionID: "sess-1",
			userID:    "user-1",
			wantErr:   ErrEmptyToken,
		},
		{
			name:      "empty session",
			token:     tok,
			sessionID: "",
			userID:    "user-1",
			wantErr:   ErrEmptySessionID,
		},
		{
			name:      "unknown token",
			token:     "does-not-exist",
			sessionID: "sess-1",
			userID:    "user-1",
			wantErr:   ErrTokenNotFound,
		},
		{
			name:      "session mismatch",
			token:     tok,
			sessionID: "sess-2",
			userID:    "user-1",
			wantErr:   ErrSessionMismatch,
		},
		{
			name:      "user mismatch",
			token:     tok,
			sessionID: "sess-1",
			userID:    "user-2",
			wantErr:   ErrUserMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateToken(ctx, tt.token, tt.sessionID, tt.userID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateToken_LazyExpiry(t *testing.T) {
	m := newTestManager(t, &Config{TokenTTL: 30 * time.Millisecond})
	ctx := context.Background()

	tok, err := m.GenerateToken(ctx, "sess-1", "user-1")
	require.NoError(t, err)

	assert.NoError(t, m.ValidateToken(ctx, tok, "sess-1", "user-1"))

	time.Sleep(50 * time.Millisecond)

	err = m.ValidateToken(ctx, tok, "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrTokenExpired)

	// The expired token was removed at read.
	assert.Equal(t, 0, m.SessionTokenCount("sess-1"))
	err = m.ValidateToken(ctx, tok, "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

// ============================================================================
// Extraction Tests
// ============================================================================

func TestExtractToken(t *testing.T) {
	m := newTestManager(t, nil)

	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", nil)
		r.Header.Set(HeaderName, "tok-header")
		assert.Equal(t, "tok-header", m.ExtractToken(r))
	})

	t.Run("authorization scheme", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", nil)
		r.Header.Set("Authorization", "CSRF-Token tok-auth")
		assert.Equal(t, "tok-auth", m.ExtractToken(r))
	})

	t.Run("bearer scheme ignored", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", nil)
		r.Header.Set("Authorization", "Bearer some-jwt")
		assert.Empty(t, m.ExtractToken(r))
	})

	t.Run("form field", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader("csrf_token=tok-form"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		assert.Equal(t, "tok-form", m.ExtractToken(r))
	})

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: "tok-cookie"})
		assert.Equal(t, "tok-cookie", m.ExtractToken(r))
	})

	t.Run("header wins over authorization", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", nil)
		r.Header.Set(HeaderName, "tok-header")
		r.Header.Set("Authorization", "CSRF-Token tok-auth")
		assert.Equal(t, "tok-header", m.ExtractToken(r))
	})
}

func TestRequiresValidation(t *testing.T) {
	assert.False(t, RequiresValidation("GET"))
	assert.False(t, RequiresValidation("head"))
	assert.False(t, RequiresValidation("OPTIONS"))
	assert.True(t, RequiresValidation("POST"))
	assert.True(t, RequiresValidation("PUT"))
	assert.True(t, RequiresValidation("PATCH"))
	assert.True(t, RequiresValidation("DELETE"))
}

// ============================================================================
// Invalidation Tests
// ============================================================================

func TestInvalidateSessionTokens(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	tok1, err := m.GenerateToken(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	tok2, err := m.GenerateToken(ctx, "sess-2", "user-1")
	require.NoError(t, err)

	removed := m.InvalidateSessionTokens("sess-1")
	assert.Equal(t, 1, removed)

	assert.ErrorIs(t, m.ValidateToken(ctx, tok1, "sess-1", "user-1"), ErrTokenNotFound)
	assert.NoError(t, m.ValidateToken(ctx, tok2, "sess-2", "user-1"))
}

func TestInvalidateUserTokens(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	tok1, err := m.GenerateToken(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	tok2, err := m.GenerateToken(ctx, "sess-2", "user-1")
	require.NoError(t, err)
	tok3, err := m.GenerateToken(ctx, "sess-3", "user-2")
	require.NoError(t, err)

	removed := m.InvalidateUserTokens("user-1")
	assert.Equal(t, 2, removed)

	assert.ErrorIs(t, m.ValidateToken(ctx, tok1, "sess-1", "user-1"), ErrTokenNotFound)
	assert.ErrorIs(t, m.ValidateToken(ctx, tok2, "sess-2", "user-1"), ErrTokenNotFound)
	assert.NoError(t, m.ValidateToken(ctx, tok3, "sess-3", "user-2"))
}

// ============================================================================
// Cookie Tests
// ============================================================================

func TestSetTokenCookie(t *testing.T) {
	m := newTestManager(t, nil)

	w := httptest.NewRecorder()
	m.SetTokenCookie(w, "tok-cookie")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "tok-cookie", cookies[0].Value)
	assert.False(t, cookies[0].HttpOnly)
	assert.Equal(t, "/", cookies[0].Path)
}
