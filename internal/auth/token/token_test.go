package token

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-with-enough-entropy")

func newTestPair(t *testing.T, opts ...VerifierOption) (Signer, Verifier) {
	t.Helper()

	cfg := &Config{
		Secret:    testSecret,
		Algorithm: AlgHS256,
		Issuer:    "routeguard-test",
	}

	s, err := NewSigner(cfg)
	require.NoError(t, err)

	v, err := NewVerifier(cfg, opts...)
	require.NoError(t, err)

	return s, v
}

// ============================================================================
// Constructor Tests
// ============================================================================

func TestNewSigner_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: ErrInvalidKey,
		},
		{
			name:    "empty secret",
			config:  &Config{Secret: nil},
			wantErr: ErrInvalidKey,
		},
		{
			name:    "unsupported algorithm",
			config:  &Config{Secret: testSecret, Algorithm: "RS256"},
			wantErr: ErrUnsupportedAlgorithm,
		},
		{
			name:   "defaults to HS256",
			config: &Config{Secret: testSecret},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.config)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewVerifier_Validation(t *testing.T) {
	_, err := NewVerifier(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewVerifier(&Config{Secret: testSecret, Algorithm: "none"})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

// ============================================================================
// Sign and Verify Round Trip
// ============================================================================

func TestSignVerify_RoundTrip(t *testing.T) {
	s, v := newTestPair(t)
	ctx := context.Background()

	claims := &Claims{
		Subject: "user-1",
		Extra: map[string]interface{}{
			ClaimEmail:     "user@example.com",
			ClaimRole:      "admin",
			ClaimSessionID: "sess-abc",
		},
	}

	tok, err := s.Sign(ctx, claims, SigningOptions{
		ExpiresIn:       time.Hour,
		Audience:        []string{"access"},
		GenerateTokenID: true,
	})
	require.NoError(t, err)
	assert.Len(t, strings.Split(tok, "."), 3)

	got, err := v.Verify(ctx, tok, "access")
	require.NoError(t, err)

	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "routeguard-test", got.Issuer)
	assert.Equal(t, "user@example.com", got.GetString(ClaimEmail))
	assert.Equal(t, "admin", got.GetString(ClaimRole))
	assert.Equal(t, "sess-abc", got.GetString(ClaimSessionID))
	assert.NotEmpty(t, got.TokenID)
	assert.NotNil(t, got.ExpiresAt)
	assert.NotNil(t, got.IssuedAt)
}

func TestSignVerify_AllAlgorithms(t *testing.T) {
	for _, alg := range []string{AlgHS256, AlgHS384, AlgHS512} {
		t.Run(alg, func(t *testing.T) {
			cfg := &Config{Secret: testSecret, Algorithm: alg}

			s, err := NewSigner(cfg)
			require.NoError(t, err)
			v, err := NewVerifier(cfg)
			require.NoError(t, err)

			tok, err := s.Sign(context.Background(), &Claims{Subject: "u"}, SigningOptions{ExpiresIn: time.Minute})
			require.NoError(t, err)

			_, err = v.Verify(context.Background(), tok, "")
			assert.NoError(t, err)
		})
	}
}

// ============================================================================
// Error Discrimination Tests
// ============================================================================

func TestVerify_EmptyToken(t *testing.T) {
	_, v := newTestPair(t)

	_, err := v.Verify(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestVerify_Malformed(t *testing.T) {
	_, v := newTestPair(t)

	tests := []struct {
		name string
		tok  string
	}{
		{name: "no dots", tok: "garbage"},
		{name: "two parts", tok: "aaa.bbb"},
		{name: "four parts", tok: "a.b.c.d"},
		{name: "invalid header base64", tok: "!!!.bbb.ccc"},
		{name: "invalid payload base64", tok: base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`)) + ".!!!.ccc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.tok, "")
			assert.ErrorIs(t, err, ErrTokenMalformed)
			assert.True(t, IsMalformedError(err))
		})
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	s, _ := newTestPair(t)

	tok, err := s.Sign(context.Background(), &Claims{Subject: "u"}, SigningOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	otherCfg := &Config{Secret: []byte("a-completely-different-secret"), Algorithm: AlgHS256}
	v, err := NewVerifier(otherCfg)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, "")
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
	assert.True(t, IsSignatureError(err))
}

func TestVerify_TamperedPayload(t *testing.T) {
	s, v := newTestPair(t)

	tok, err := s.Sign(context.Background(), &Claims{Subject: "user-1"}, SigningOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user-2"}`))

	_, err = v.Verify(context.Background(), strings.Join(parts, "."), "")
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestVerify_Expired(t *testing.T) {
	s, v := newTestPair(t)

	claims := &Claims{
		Subject:   "u",
		ExpiresAt: &Time{Time: time.Now().Add(-time.Minute)},
	}

	tok, err := s.Sign(context.Background(), claims, SigningOptions{})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, "")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsExpiredError(err))
}

func TestVerify_ExpiredWithinSkew(t *testing.T) {
	s, v := newTestPair(t, WithClockSkew(2*time.Minute))

	claims := &Claims{
		Subject:   "u",
		ExpiresAt: &Time{Time: time.Now().Add(-time.Minute)},
	}

	tok, err := s.Sign(context.Background(), claims, SigningOptions{})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, "")
	assert.NoError(t, err)
}

func TestVerify_NotYetValid(t *testing.T) {
	s, v := newTestPair(t)

	claims := &Claims{
		Subject:   "u",
		NotBefore: &Time{Time: time.Now().Add(time.Hour)},
		ExpiresAt: &Time{Time: time.Now().Add(2 * time.Hour)},
	}

	tok, err := s.Sign(context.Background(), claims, SigningOptions{})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, "")
	assert.ErrorIs(t, err, ErrTokenNotYetValid)
}

func TestVerify_AlgorithmMismatch(t *testing.T) {
	s, err := NewSigner(&Config{Secret: testSecret, Algorithm: AlgHS512})
	require.NoError(t, err)

	v, err := NewVerifier(&Config{Secret: testSecret, Algorithm: AlgHS256})
	require.NoError(t, err)

	tok, err := s.Sign(context.Background(), &Claims{Subject: "u"}, SigningOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, "")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

// ============================================================================
// Audience Tests
// ============================================================================

func TestVerify_AudienceConfusion(t *testing.T) {
	s, v := newTestPair(t)
	ctx := context.Background()

	refresh, err := s.Sign(ctx, &Claims{Subject: "u"}, SigningOptions{
		ExpiresIn: time.Hour,
		Audience:  []string{"refresh"},
	})
	require.NoError(t, err)

	// A refresh token must not pass where an access token is expected.
	_, err = v.Verify(ctx, refresh, "access")
	assert.ErrorIs(t, err, ErrTokenInvalidAudience)

	_, err = v.Verify(ctx, refresh, "refresh")
	assert.NoError(t, err)
}

func TestVerify_NoAudienceExpected(t *testing.T) {
	s, v := newTestPair(t)

	tok, err := s.Sign(context.Background(), &Claims{Subject: "u"}, SigningOptions{
		ExpiresIn: time.Minute,
		Audience:  []string{"access"},
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, "")
	assert.NoError(t, err)
}

// ============================================================================
// Claims Tests
// ============================================================================

func TestAudience_UnmarshalForms(t *testing.T) {
	var single Audience
	require.NoError(t, single.UnmarshalJSON([]byte(`"access"`)))
	assert.Equal(t, Audience{"access"}, single)

	var multi Audience
	require.NoError(t, multi.UnmarshalJSON([]byte(`["access","api"]`)))
	assert.True(t, multi.Contains("api"))
	assert.False(t, multi.Contains("refresh"))
}

func TestClaims_ExtraRoundTrip(t *testing.T) {
	s, v := newTestPair(t)

	claims := &Claims{
		Subject: "u",
		Extra: map[string]interface{}{
			"tenant":         "acme",
			ClaimFingerprint: "fp-123",
		},
	}

	tok, err := s.Sign(context.Background(), claims, SigningOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	got, err := v.Verify(context.Background(), tok, "")
	require.NoError(t, err)

	assert.Equal(t, "acme", got.GetString("tenant"))
	assert.Equal(t, "fp-123", got.GetString(ClaimFingerprint))
}
