package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/observability"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

var errRateSourceRequired = errors.New("rate cache: source is required")

// RateCacheDeps wires the collaborators of a RateCache.
type RateCacheDeps struct {
	Source repositories.RateSource
	// Default is served until the first successful fetch.
	Default domain.RateSnapshot
	Logger  *zap.Logger
	Metrics *observability.SyncMetrics
	Clock   func() time.Time
}

// RateStatus describes the freshness of the served snapshot.
type RateStatus struct {
	// Fetched is set once any fetch has succeeded.
	Fetched bool
	// Stale is set while the latest refresh attempt failed.
	Stale bool
	// Warning is set when the latest refresh failed and nothing was ever fetched.
	Warning     bool
	LastError   error
	LastAttempt time.Time
}

// RateCache serves the latest commodity rate snapshot without blocking readers.
type RateCache struct {
	source  repositories.RateSource
	logger  *zap.Logger
	metrics *observability.SyncMetrics
	now     func() time.Time

	mu        sync.RWMutex
	snapshot  domain.RateSnapshot
	status    RateStatus
	observers map[uint64]func(domain.RateSnapshot)
	nextObs   uint64
}

// NewRateCache constructs a RateCache serving deps.Default until the first fetch.
func NewRateCache(deps RateCacheDeps) (*RateCache, error) {
	if deps.Source == nil {
		return nil, errRateSourceRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	def := deps.Default
	def.ObservedAt = time.Time{}
	return &RateCache{
		source:    deps.Source,
		logger:    logger,
		metrics:   deps.Metrics,
		now:       func() time.Time { return clock().UTC() },
		snapshot:  def,
		observers: make(map[uint64]func(domain.RateSnapshot)),
	}, nil
}

// Read returns the current snapshot.
func (c *RateCache) Read() domain.RateSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Status reports whether the served snapshot is stale.
func (c *RateCache) Status() RateStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Refresh fetches rates and replaces the snapshot when the fetched one is strictly newer.
// On failure the previous snapshot stays in place and the returned error wraps ErrRateFetch.
func (c *RateCache) Refresh(ctx context.Context) (domain.RateSnapshot, error) {
	ctx, span := observability.StartSpan(ctx, "rates.refresh")
	started := time.Now()
	fetched, err := c.source.FetchLatestRates(ctx)
	c.metrics.RateFetch(ctx, time.Since(started), err)
	observability.EndSpan(span, err)

	c.mu.Lock()
	c.status.LastAttempt = c.now()
	if err != nil {
		c.status.Stale = true
		c.status.LastError = err
		c.status.Warning = !c.status.Fetched
		everFetched := c.status.Fetched
		current := c.snapshot
		c.mu.Unlock()
		c.logger.Warn("rates.refresh_failed", zap.Bool("everFetched", everFetched), zap.Error(err))
		return current, fmt.Errorf("%w: %w", ErrRateFetch, err)
	}

	c.status = RateStatus{Fetched: true, LastAttempt: c.status.LastAttempt}
	replaced := false
	if fetched.NewerThan(c.snapshot) {
		if fetched.Currency == "" {
			fetched.Currency = c.snapshot.Currency
		}
		c.snapshot = fetched
		replaced = true
	}
	current := c.snapshot
	var observers []func(domain.RateSnapshot)
	if replaced {
		for _, fn := range c.observers {
			observers = append(observers, fn)
		}
	}
	c.mu.Unlock()

	if !replaced {
		c.logger.Debug("rates.out_of_order", zap.Time("fetched", fetched.ObservedAt), zap.Time("current", current.ObservedAt))
	}
	for _, fn := range observers {
		fn(current)
	}
	return current, nil
}

// OnChange registers fn for snapshot replacements and returns a function removing it.
func (c *RateCache) OnChange(fn func(domain.RateSnapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Run refreshes immediately and then every interval until ctx is done.
func (c *RateCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	_, _ = c.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.Refresh(ctx)
		}
	}
}
