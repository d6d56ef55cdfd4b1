package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"github.com/google/uuid"

	"github.com/routeguard/routeguard/internal/observability"
)

// Signer signs tokens.
type Signer interface {
	// Sign creates a signed token from the claims.
	Sign(ctx context.Context, claims *Claims, opts SigningOptions) (string, error)
}

// SigningOptions contains options for token signing.
type SigningOptions struct {
	// ExpiresIn is the token expiration duration.
	ExpiresIn time.Duration

	// Audience overrides the default audience.
	Audience []string

	// GenerateTokenID generates a unique jti claim.
	GenerateTokenID bool
}

// Config holds signing configuration.
type Config struct {
	// Secret is the HMAC signing key.
	Secret []byte

	// Algorithm is the signing algorithm (HS256 default).
	Algorithm string

	// Issuer is the default issuer claim.
	Issuer string
}

// signer implements the Signer interface.
type signer struct {
	config *Config
	logger observability.Logger
}

// SignerOption is a functional option for the signer.
type SignerOption func(*signer)

// WithSignerLogger sets the logger for the signer.
func WithSignerLogger(logger observability.Logger) SignerOption {
	return func(s *signer) {
		s.logger = logger
	}
}

// NewSigner creates a new token signer.
func NewSigner(config *Config, opts ...SignerOption) (Signer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required: %w", ErrInvalidKey)
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

	s := &signer{
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Sign creates a signed token.
func (s *signer) Sign(ctx context.Context, claims *Claims, opts SigningOptions) (string, error) {
	now := time.Now()

	if claims.IssuedAt == nil {
		claims.IssuedAt = &Time{Time: now}
	}
	if opts.ExpiresIn > 0 && claims.ExpiresAt == nil {
		claims.ExpiresAt = &Time{Time: now.Add(opts.ExpiresIn)}
	}
	if claims.Issuer == "" {
		claims.Issuer = s.config.Issuer
	}
	if len(opts.Audience) > 0 && len(claims.Audience) == 0 {
		claims.Audience = opts.Audience
	}
	if opts.GenerateTokenID && claims.TokenID == "" {
		claims.TokenID = uuid.New().String()
	}

	header := map[string]interface{}{
		"alg": s.config.Algorithm,
		"typ": "JWT",
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to encode header: %w", err)
	}

	payloadJSON, err := json.Marshal(claims.ToMap())
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	signature, err := computeHMAC(signingInput, s.config.Algorithm, s.config.Secret)
	if err != nil {
		return "", err
	}

	s.logger.Debug("token signed",
		observability.String("subject", claims.Subject),
		observability.String("algorithm", s.config.Algorithm),
	)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// hashFuncFor resolves the hash constructor for an HMAC algorithm.
func hashFuncFor(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case AlgHS256:
		return sha256.New, nil
	case AlgHS384:
		return sha512.New384, nil
	case AlgHS512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// computeHMAC computes the HMAC signature over the signing input.
func computeHMAC(signingInput, algorithm string, key []byte) ([]byte, error) {
	hashFunc, err := hashFuncFor(algorithm)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(hashFunc, key)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil), nil
}

// Ensure signer implements Signer.
var _ Signer = (*signer)(nil)
