package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lanternlabs/keyline/internal/users"
)

const (
	defaultIDTokenTTL = 30 * time.Minute
)

var (
	// ErrMissingSigningSecret indicates the issuer has no key material.
	ErrMissingSigningSecret = errors.New("auth: signing secret must be provided")
	// ErrMissingSubject indicates a record or token without a uid.
	ErrMissingSubject = errors.New("auth: subject must be provided")
	// ErrInvalidIDToken indicates a token that failed verification.
	ErrInvalidIDToken = errors.New("auth: invalid id token")
)

// IDTokenClaims is the JWT payload asserted for a user. It carries identity
// and authorization metadata only; credential material (password digest,
// out-of-band code, refresh token) is never embedded.
type IDTokenClaims struct {
	Email         string                 `json:"email,omitempty"`
	EmailVerified bool                   `json:"email_verified,omitempty"`
	Username      string                 `json:"username,omitempty"`
	DisplayName   string                 `json:"display_name,omitempty"`
	PhotoURL      string                 `json:"photo_url,omitempty"`
	Claims        map[string]interface{} `json:"claims,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenIssuerConfig configures the HS256 ID-token issuer.
type IDTokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// IDTokenIssuer signs short-lived identity tokens over user records.
type IDTokenIssuer struct {
	config IDTokenIssuerConfig
	clock  func() time.Time
}

// NewIDTokenIssuer constructs an issuer with sane defaults.
func NewIDTokenIssuer(cfg IDTokenIssuerConfig) (*IDTokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultIDTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &IDTokenIssuer{
		config: IDTokenIssuerConfig{
			SigningSecret: append([]byte(nil), cfg.SigningSecret...),
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// TokenTTL reports the configured token lifetime.
func (i *IDTokenIssuer) TokenTTL() time.Duration {
	return i.config.TokenTTL
}

// SignIDToken produces a signed JWT asserting the record's identity, with the
// uid as subject. The mapping is deterministic given the record and the
// issuer's key material.
func (i *IDTokenIssuer) SignIDToken(_ context.Context, record *users.Record) (string, error) {
	if record == nil || record.UID == "" {
		return "", ErrMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := IDTokenClaims{
		Email:         record.Email,
		EmailVerified: record.EmailVerified,
		Username:      record.Username,
		DisplayName:   record.DisplayName,
		PhotoURL:      record.PhotoURL,
		Claims:        record.Claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   record.UID,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.config.SigningSecret)
}

// ValidateToken ensures the ID token is well formed and returns the subject uid.
func (i *IDTokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidIDToken, token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
