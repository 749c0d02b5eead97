package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

// ErrNoRates is returned when a StaticRateSource has no snapshot configured.
var ErrNoRates = errors.New("memory rates: no snapshot configured")

// StaticRateSource serves a fixed snapshot, restamped with the clock on every fetch.
type StaticRateSource struct {
	mu       sync.RWMutex
	snapshot domain.RateSnapshot
	clock    func() time.Time
}

// NewStaticRateSource constructs a source serving snapshot. A nil clock uses time.Now.
func NewStaticRateSource(snapshot domain.RateSnapshot, clock func() time.Time) *StaticRateSource {
	if clock == nil {
		clock = time.Now
	}
	return &StaticRateSource{snapshot: snapshot, clock: clock}
}

// Set replaces the served rates.
func (s *StaticRateSource) Set(snapshot domain.RateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

// FetchLatestRates implements repositories.RateSource.
func (s *StaticRateSource) FetchLatestRates(ctx context.Context) (domain.RateSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.RateSnapshot{}, err
	}
	s.mu.RLock()
	snapshot := s.snapshot
	s.mu.RUnlock()
	if snapshot.Rate22K <= 0 || snapshot.Rate24K <= 0 {
		return domain.RateSnapshot{}, ErrNoRates
	}
	snapshot.ObservedAt = s.clock().UTC()
	return snapshot, nil
}

var _ repositories.RateSource = (*StaticRateSource)(nil)
