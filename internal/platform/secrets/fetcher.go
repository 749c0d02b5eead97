// Package secrets resolves secret:// configuration references against Google Secret Manager,
// falling back to a local key/value file during development.
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/navajothi-jewels/storefront-sync/internal/platform/secrets"

// AccessClient is the slice of the Secret Manager client the fetcher uses.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (AccessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Codes that send a lookup to the fallback file rather than failing it.
var fallbackCodes = map[codes.Code]bool{
	codes.PermissionDenied: true,
	codes.Unauthenticated:  true,
	codes.Unavailable:      true,
	codes.DeadlineExceeded: true,
}

// Fetcher resolves and caches secret references. It satisfies config.SecretResolver.
type Fetcher struct {
	client     AccessClient
	ownsClient bool
	project    string
	fallback   *fallbackFile
	retry      gax.CallOption
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

type settings struct {
	logger     *zap.Logger
	project    string
	fallback   string
	meter      metric.Meter
	client     AccessClient
	clientOpts []option.ClientOption
}

// Option configures NewFetcher.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithProject sets the default Secret Manager project. A ?project= on the reference overrides it.
func WithProject(project string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(project) }
}

// WithFallbackFile sets the local fallback path. Empty disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallback = strings.TrimSpace(path) }
}

// WithMeter sets the meter for fetch latency and cache hit instruments.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient supplies a ready client. The fetcher will not close it.
func WithSecretManagerClient(client AccessClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions passes options to the Secret Manager client the fetcher creates.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. Without a project, or when the client cannot be created, only the
// fallback file is consulted.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{fallback: ".secrets.local"}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		project:  s.project,
		fallback: &fallbackFile{path: s.fallback},
		logger:   s.logger,
		cache:    make(map[string]string),
		retry: gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        time.Second,
				Multiplier: 2,
			})
		}),
	}

	var err error
	if f.latency, err = s.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"), metric.WithDescription("Secret resolution latency by source")); err != nil {
		s.logger.Warn("secrets.metric_register_failed", zap.String("instrument", "latency"), zap.Error(err))
	}
	if f.hits, err = s.meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache")); err != nil {
		s.logger.Warn("secrets.metric_register_failed", zap.String("instrument", "cache_hits"), zap.Error(err))
	}

	switch {
	case s.client != nil:
		f.client = s.client
	case s.project != "":
		client, err := newAccessClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets.client_unavailable", zap.String("mode", "fallback_only"), zap.Error(err))
			break
		}
		f.client, f.ownsClient = client, true
	}
	return f, nil
}

// Close releases a client the fetcher created.
func (f *Fetcher) Close() error {
	if !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value for ref from the cache, Secret Manager or the fallback file, in that order.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(ref); ok {
		if f.hits != nil {
			f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.masked())))
		}
		f.observe(ctx, "cache", started)
		return value, nil
	}

	value, source, err := f.lookup(ctx, ref)
	if err != nil {
		f.observe(ctx, "error", started)
		return "", err
	}
	f.mu.Lock()
	f.cache[ref.key()] = value
	f.mu.Unlock()
	f.observe(ctx, source, started)
	return value, nil
}

func (f *Fetcher) cached(ref reference) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[ref.key()]
	return value, ok
}

func (f *Fetcher) lookup(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.project
	}
	if f.client != nil && project != "" {
		value, err := f.access(ctx, ref.resource(project))
		if err == nil {
			return value, "remote", nil
		}
		if !fallbackCodes[status.Code(err)] {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets.remote_unavailable", zap.String("ref", ref.masked()), zap.Error(err))
	}

	value, ok, err := f.fallback.lookup(ref)
	switch {
	case err != nil:
		return "", "", err
	case !ok:
		return "", "", fmt.Errorf("secrets: %s not found in fallback file", ref.canonical)
	}
	return value, "fallback", nil
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource}, f.retry)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) observe(ctx context.Context, source string, started time.Time) {
	if f.latency == nil {
		return
	}
	ms := float64(time.Since(started)) / float64(time.Millisecond)
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}
