package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

// LocalVerifier issues and verifies HS256 tokens for development and emulator setups.
type LocalVerifier struct {
	secret []byte
	issuer string
	clock  func() time.Time
}

type localClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewLocalVerifier constructs a LocalVerifier signing with secret.
func NewLocalVerifier(secret, issuer string, clock func() time.Time) (*LocalVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: local token secret is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &LocalVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		clock:  func() time.Time { return clock().UTC() },
	}, nil
}

// Issue signs a token asserting identity, valid for ttl.
func (v *LocalVerifier) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	uid := strings.TrimSpace(identity.UID)
	if uid == "" {
		return "", errors.New("auth: identity uid is required")
	}
	now := v.clock()
	claims := localClaims{
		Email: strings.TrimSpace(identity.Email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign local token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token produced by Issue.
func (v *LocalVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, ErrTokenInvalid
	}
	claims := &localClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return domain.Identity{}, ErrTokenInvalid
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.Time.After(v.clock()) {
		return domain.Identity{}, ErrTokenExpired
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return domain.Identity{}, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return domain.Identity{UID: claims.Subject, Email: claims.Email}, nil
}

var _ Verifier = (*LocalVerifier)(nil)
