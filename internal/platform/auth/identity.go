// Package auth turns sign-in tokens into identities. Firebase ID tokens are verified through the
// Admin SDK; locally issued HS256 tokens serve emulator and development setups.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

const (
	defaultEmailClaim    = "email"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the provided token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the provided token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Verifier exchanges a bearer token for the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// VerifierFunc adapts ordinary functions to Verifier.
type VerifierFunc func(ctx context.Context, token string) (domain.Identity, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (domain.Identity, error) {
	return f(ctx, token)
}

// ExtractBearerToken returns the token portion of an Authorization header.
func ExtractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func claimAsString(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	if value, ok := claims[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
