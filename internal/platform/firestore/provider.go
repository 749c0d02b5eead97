package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/config"
)

const envEmulatorHost = "FIRESTORE_EMULATOR_HOST"

var (
	// ErrProviderClosed is returned by Client after Close.
	ErrProviderClosed = errors.New("firestore: provider is closed")
	errNoProject      = errors.New("firestore: project id is required")
)

type dialFunc func(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error)

// Provider dials one Firestore client on first use and shares it between the collection store,
// change feed and rate source.
type Provider struct {
	project  string
	emulator string
	timeout  time.Duration
	opts     []option.ClientOption
	dial     dialFunc

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption configures NewProvider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation. The default is ten seconds.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithClientOptions adds options such as a credentials file to the dial.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}

// NewProvider resolves the project (falling back to GOOGLE_CLOUD_PROJECT) and the emulator host
// (falling back to FIRESTORE_EMULATOR_HOST) up front. Nothing is dialled until Client.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		project:  firstNonEmpty(cfg.ProjectID, os.Getenv("GOOGLE_CLOUD_PROJECT")),
		emulator: firstNonEmpty(cfg.EmulatorHost, os.Getenv(envEmulatorHost)),
		timeout:  10 * time.Second,
		dial:     firestore.NewClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, dialling it on first call. A failed dial is retried on the
// next call.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.project == "":
		return nil, errNoProject
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	client, err := p.dial(ctx, p.project, p.dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", p.project, err)
	}
	p.client = client
	return client, nil
}

func (p *Provider) dialOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.opts...)
	if p.emulator == "" {
		return opts
	}
	// The Go client only skips auth for the emulator when the env var is set.
	if os.Getenv(envEmulatorHost) == "" {
		_ = os.Setenv(envEmulatorHost, p.emulator)
	}
	return append(opts,
		option.WithEndpoint(p.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Close closes the client if one was dialled. Client fails with ErrProviderClosed afterwards.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// RunTransaction runs fn on the shared client. See the package-level RunTransaction.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
