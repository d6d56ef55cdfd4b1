package token

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/routeguard/routeguard/internal/observability"
)

// Verifier verifies signed tokens.
type Verifier interface {
	// Verify checks the token signature and claims. When expectedAudience
	// is non-empty, the token must carry that audience; this prevents a
	// refresh token from being presented where an access token is expected.
	Verify(ctx context.Context, tok string, expectedAudience string) (*Claims, error)
}

// verifier implements the Verifier interface.
type verifier struct {
	config    *Config
	logger    observability.Logger
	clockSkew time.Duration
}

// VerifierOption is a functional option for the verifier.
type VerifierOption func(*verifier)

// WithVerifierLogger sets the logger for the verifier.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *verifier) {
		v.logger = logger
	}
}

// WithClockSkew sets the allowed clock skew.
func WithClockSkew(skew time.Duration) VerifierOption {
	return func(v *verifier) {
		v.clockSkew = skew
	}
}

// NewVerifier creates a new token verifier.
func NewVerifier(config *Config, opts ...VerifierOption) (Verifier, error) {
	if config == nil {
		return nil, ErrInvalidKey
	}
	if len(config.Secret) == 0 {
		return nil, ErrInvalidKey
	}
	if config.Algorithm == "" {
		config.Algorithm = AlgHS256
	}
	if _, err := hashFuncFor(config.Algorithm); err != nil {
		return nil, err
	}

	v := &verifier{
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// tokenHeader represents the token header.
type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// Verify implements Verifier.
func (v *verifier) Verify(ctx context.Context, tok string, expectedAudience string) (*Claims, error) {
	if tok == "" {
		return nil, ErrEmptyToken
	}

	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}

	header, err := v.decodeHeader(parts[0])
	if err != nil {
		return nil, NewValidationError("failed to decode header", ErrTokenMalformed)
	}

	// Accepting only the configured algorithm blocks downgrade tricks.
	if header.Algorithm != v.config.Algorithm {
		return nil, NewValidationError("unexpected algorithm", ErrUnsupportedAlgorithm)
	}

	claims, err := v.decodePayload(parts[1])
	if err != nil {
		return nil, NewValidationError("failed to decode payload", ErrTokenMalformed)
	}

	if err := v.verifySignature(parts[0]+"."+parts[1], parts[2]); err != nil {
		return nil, err
	}

	if err := v.validateClaims(claims, expectedAudience); err != nil {
		return nil, err
	}

	v.logger.Debug("token verified",
		observability.String("subject", claims.Subject),
	)

	return claims, nil
}

// decodeHeader decodes the token header.
func (v *verifier) decodeHeader(encoded string) (*tokenHeader, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	var header tokenHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	return &header, nil
}

// decodePayload decodes the token payload.
func (v *verifier) decodePayload(encoded string) (*Claims, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	var claimsMap map[string]interface{}
	if err := json.Unmarshal(data, &claimsMap); err != nil {
		return nil, err
	}

	return ParseClaims(claimsMap)
}

// verifySignature verifies the HMAC signature in constant time.
func (v *verifier) verifySignature(signingInput, signature string) error {
	sigBytes, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return NewValidationError("failed to decode signature", ErrTokenMalformed)
	}

	expected, err := computeHMAC(signingInput, v.config.Algorithm, v.config.Secret)
	if err != nil {
		return err
	}

	if !hmac.Equal(sigBytes, expected) {
		return NewValidationError("signature verification failed", ErrTokenInvalidSignature)
	}

	return nil
}

// validateClaims validates expiry, not-before, and audience.
func (v *verifier) validateClaims(claims *Claims, expectedAudience string) error {
	now := time.Now()

	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time.Add(v.clockSkew)) {
		return NewValidationError("token has expired", ErrTokenExpired)
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time.Add(-v.clockSkew)) {
		return NewValidationError("token is not yet valid", ErrTokenNotYetValid)
	}

	if expectedAudience != "" && !claims.Audience.Contains(expectedAudience) {
		return NewValidationError("token audience does not match", ErrTokenInvalidAudience)
	}

	return nil
}

// Ensure verifier implements Verifier.
var _ Verifier = (*verifier)(nil)
