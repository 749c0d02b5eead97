package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/config"
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens through the Admin SDK.
type FirebaseVerifier struct {
	client  idTokenVerifier
	timeout time.Duration
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier initialises a Firebase app for cfg.ProjectID, using cfg.CredentialsFile when
// set and application default credentials otherwise.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(path))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: project}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return newFirebaseVerifier(client, opts...), nil
}

func newFirebaseVerifier(client idTokenVerifier, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify checks idToken with the Admin SDK. Expired tokens wrap ErrTokenExpired and malformed or
// forged ones wrap ErrTokenInvalid; anything else is a backend failure.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (domain.Identity, error) {
	if v == nil || v.client == nil {
		return domain.Identity{}, errors.New("auth: firebase verifier not initialised")
	}
	if idToken = strings.TrimSpace(idToken); idToken == "" {
		return domain.Identity{}, ErrTokenInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return domain.Identity{}, classifyFirebaseError(err)
	}
	return identityFromToken(token)
}

func classifyFirebaseError(err error) error {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenInvalid(err):
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return fmt.Errorf("auth: verify firebase token: %w", err)
	}
}

func identityFromToken(token *firebaseauth.Token) (domain.Identity, error) {
	if token == nil {
		return domain.Identity{}, ErrTokenInvalid
	}
	uid := strings.TrimSpace(token.UID)
	if uid == "" {
		return domain.Identity{}, ErrTokenInvalid
	}
	return domain.Identity{UID: uid, Email: claimAsString(token.Claims, defaultEmailClaim)}, nil
}

var _ Verifier = (*FirebaseVerifier)(nil)
