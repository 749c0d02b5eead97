package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

type stubRateSource struct {
	fetchFn func(ctx context.Context) (domain.RateSnapshot, error)
	calls   atomic.Int32
}

func (s *stubRateSource) FetchLatestRates(ctx context.Context) (domain.RateSnapshot, error) {
	s.calls.Add(1)
	return s.fetchFn(ctx)
}

var rateEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func ratesAt(offset time.Duration, rate22 float64) domain.RateSnapshot {
	return domain.RateSnapshot{Rate22K: rate22, Rate24K: rate22 * 1.09, Currency: "INR", ObservedAt: rateEpoch.Add(offset)}
}

func TestNewRateCacheRequiresSource(t *testing.T) {
	if _, err := NewRateCache(RateCacheDeps{}); err == nil {
		t.Fatalf("expected error without a source")
	}
}

func TestRateCacheServesDefaultUntilFetched(t *testing.T) {
	def := domain.RateSnapshot{Rate22K: 5000, Rate24K: 5450, Currency: "INR"}
	cache, err := NewRateCache(RateCacheDeps{
		Source:  &stubRateSource{fetchFn: func(context.Context) (domain.RateSnapshot, error) { return ratesAt(0, 6000), nil }},
		Default: def,
	})
	if err != nil {
		t.Fatalf("NewRateCache: %v", err)
	}
	if got := cache.Read(); got.Rate22K != 5000 || got.Currency != "INR" {
		t.Fatalf("expected default snapshot, got %+v", got)
	}
	if status := cache.Status(); status.Fetched || status.Warning || status.Stale {
		t.Fatalf("expected clean status before any fetch, got %+v", status)
	}

	got, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.Rate22K != 6000 || cache.Read().Rate22K != 6000 {
		t.Fatalf("expected fetched snapshot to replace the default, got %+v", got)
	}
	if !cache.Status().Fetched {
		t.Fatalf("expected fetched status")
	}
}

func TestRateCacheFailureBeforeFirstFetchWarns(t *testing.T) {
	boom := errors.New("rates api down")
	cache, _ := NewRateCache(RateCacheDeps{
		Source:  &stubRateSource{fetchFn: func(context.Context) (domain.RateSnapshot, error) { return domain.RateSnapshot{}, boom }},
		Default: domain.RateSnapshot{Rate22K: 5000, Rate24K: 5450, Currency: "INR"},
	})

	got, err := cache.Refresh(context.Background())
	if !errors.Is(err, ErrRateFetch) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrRateFetch wrapping the cause, got %v", err)
	}
	if got.Rate22K != 5000 {
		t.Fatalf("expected default to be served, got %+v", got)
	}
	status := cache.Status()
	if !status.Warning || !status.Stale || status.Fetched {
		t.Fatalf("expected warning before first fetch, got %+v", status)
	}
}

func TestRateCacheFailureAfterFetchServesStaleSilently(t *testing.T) {
	var fail atomic.Bool
	cache, _ := NewRateCache(RateCacheDeps{
		Source: &stubRateSource{fetchFn: func(context.Context) (domain.RateSnapshot, error) {
			if fail.Load() {
				return domain.RateSnapshot{}, errors.New("timeout")
			}
			return ratesAt(0, 6100), nil
		}},
	})
	ctx := context.Background()
	if _, err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	fail.Store(true)
	if _, err := cache.Refresh(ctx); err == nil {
		t.Fatalf("expected refresh error")
	}

	if cache.Read().Rate22K != 6100 {
		t.Fatalf("expected stale snapshot to be kept")
	}
	status := cache.Status()
	if status.Warning || !status.Stale || !status.Fetched {
		t.Fatalf("expected stale without warning, got %+v", status)
	}

	fail.Store(false)
	if _, err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if cache.Status().Stale {
		t.Fatalf("expected stale flag to clear after success")
	}
}

func TestRateCacheIgnoresOlderSnapshot(t *testing.T) {
	responses := []domain.RateSnapshot{ratesAt(2*time.Minute, 6200), ratesAt(time.Minute, 6100)}
	var i atomic.Int32
	cache, _ := NewRateCache(RateCacheDeps{
		Source: &stubRateSource{fetchFn: func(context.Context) (domain.RateSnapshot, error) {
			return responses[i.Add(1)-1], nil
		}},
	})
	changes := 0
	cancel := cache.OnChange(func(domain.RateSnapshot) { changes++ })
	defer cancel()

	ctx := context.Background()
	_, _ = cache.Refresh(ctx)
	got, err := cache.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.Rate22K != 6200 || cache.Read().Rate22K != 6200 {
		t.Fatalf("expected newer snapshot to be kept, got %+v", got)
	}
	if changes != 1 {
		t.Fatalf("expected one change notification, got %d", changes)
	}
}

func TestRateCacheConcurrentRefreshIsMonotonic(t *testing.T) {
	var n atomic.Int64
	cache, _ := NewRateCache(RateCacheDeps{
		Source: &stubRateSource{fetchFn: func(context.Context) (domain.RateSnapshot, error) {
			i := n.Add(1)
			// odd calls report an older observation than even ones
			offset := time.Duration(i) * time.Second
			if i%2 == 1 {
				offset = time.Duration(i/2) * time.Millisecond
			}
			return ratesAt(offset, 6000+float64(i)), nil
		}},
	})

	stop := make(chan struct{})
	violations := make(chan string, 1)
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		var last time.Time
		for {
			select {
			case <-stop:
				return
			default:
			}
			current := cache.Read().ObservedAt
			if current.Before(last) {
				select {
				case violations <- current.String() + " after " + last.String():
				default:
				}
				return
			}
			last = current
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Refresh(context.Background())
			if err != nil {
				t.Errorf("Refresh: %v", err)
				return
			}
			if cache.Read().ObservedAt.Before(got.ObservedAt) {
				t.Errorf("cache went backwards after returning %s", got.ObservedAt)
			}
		}()
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	select {
	case v := <-violations:
		t.Fatalf("observedAt regressed: %s", v)
	default:
	}
	want := rateEpoch.Add(64 * time.Second)
	if got := cache.Read().ObservedAt; !got.Equal(want) {
		t.Fatalf("expected newest observation %s, got %s", want, got)
	}
}

func TestRateCacheRunRefreshesUntilCancelled(t *testing.T) {
	source := &stubRateSource{fetchFn: func(context.Context) (domain.RateSnapshot, error) { return ratesAt(0, 6000), nil }}
	cache, _ := NewRateCache(RateCacheDeps{Source: source})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for source.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
	if source.calls.Load() < 2 {
		t.Fatalf("expected periodic refreshes, got %d", source.calls.Load())
	}
}
