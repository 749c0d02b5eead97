package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics groups the counters and histograms recorded by the sync engine and rate cache.
// Instruments come from the global meter provider, which is a no-op until the host installs an SDK.
type SyncMetrics struct {
	intents         metric.Int64Counter
	rollbacks       metric.Int64Counter
	conflicts       metric.Int64Counter
	reconciles      metric.Int64Counter
	refreshFailures metric.Int64Counter
	fetchLatency    metric.Float64Histogram
}

// NewSyncMetrics registers instruments on meter, falling back to the global provider when nil.
func NewSyncMetrics(meter metric.Meter, logger *zap.Logger) *SyncMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil {
			logger.Warn("metrics: unable to register counter", zap.String("name", name), zap.Error(err))
			return nil
		}
		return c
	}
	m := &SyncMetrics{
		intents:         counter("sync.intents", "Collection intents applied locally"),
		rollbacks:       counter("sync.rollbacks", "Optimistic mutations rolled back after a remote failure"),
		conflicts:       counter("sync.conflicts", "Remote mutations rejected as duplicates"),
		reconciles:      counter("sync.reconciles", "Wholesale replacements of a collection from the remote store"),
		refreshFailures: counter("rates.refresh_failures", "Commodity rate refreshes that failed"),
	}
	latency, err := meter.Float64Histogram("rates.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of commodity rate fetches"),
	)
	if err != nil {
		logger.Warn("metrics: unable to register histogram", zap.Error(err))
	} else {
		m.fetchLatency = latency
	}
	return m
}

// Intent counts an applied intent of the given kind on a collection.
func (m *SyncMetrics) Intent(ctx context.Context, collection, kind string) {
	if m == nil {
		return
	}
	m.add(ctx, m.intents, attribute.String("collection", collection), attribute.String("intent", kind))
}

// Rollback counts a rollback on a collection.
func (m *SyncMetrics) Rollback(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.rollbacks, attribute.String("collection", collection))
}

// Conflict counts a duplicate rejection on a collection.
func (m *SyncMetrics) Conflict(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.conflicts, attribute.String("collection", collection))
}

// Reconcile counts a reconciliation, labelled by outcome.
func (m *SyncMetrics) Reconcile(ctx context.Context, collection string, ok bool) {
	if m == nil {
		return
	}
	m.add(ctx, m.reconciles, attribute.String("collection", collection), attribute.Bool("ok", ok))
}

// RateFetch records a rate fetch attempt and counts it when it failed.
func (m *SyncMetrics) RateFetch(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	if m.fetchLatency != nil {
		m.fetchLatency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attribute.Bool("ok", err == nil)))
	}
	if err != nil {
		m.add(ctx, m.refreshFailures)
	}
}

func (m *SyncMetrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
