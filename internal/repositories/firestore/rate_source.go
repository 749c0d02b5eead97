package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	pfirestore "github.com/navajothi-jewels/storefront-sync/internal/platform/firestore"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

const (
	ratesCollection = "metalRates"
	latestRatesDoc  = "latest"
)

// RateSource reads the published commodity rates from metalRates/latest.
type RateSource struct {
	provider *pfirestore.Provider
}

// NewRateSource constructs a Firestore rate source.
func NewRateSource(provider *pfirestore.Provider) (*RateSource, error) {
	if provider == nil {
		return nil, errors.New("rate source requires firestore provider")
	}
	return &RateSource{provider: provider}, nil
}

// FetchLatestRates implements repositories.RateSource.
func (s *RateSource) FetchLatestRates(ctx context.Context) (domain.RateSnapshot, error) {
	if s == nil || s.provider == nil {
		return domain.RateSnapshot{}, errors.New("rate source not initialised")
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return domain.RateSnapshot{}, err
	}
	snap, err := client.Collection(ratesCollection).Doc(latestRatesDoc).Get(ctx)
	if err != nil {
		return domain.RateSnapshot{}, pfirestore.WrapError("rates.latest", err)
	}
	doc, err := pfirestore.DecodeSnapshot(snap, decodeRateDocument)
	if err != nil {
		return domain.RateSnapshot{}, fmt.Errorf("rates.latest: %w", err)
	}
	snapshot := doc.Data
	if snapshot.ObservedAt.IsZero() {
		snapshot.ObservedAt = doc.UpdateTime.UTC()
	}
	return snapshot, nil
}

type rateDocument struct {
	Rate22K    float64   `firestore:"rate22k"`
	Rate24K    float64   `firestore:"rate24k"`
	Currency   string    `firestore:"currency"`
	ObservedAt time.Time `firestore:"observedAt"`
}

func decodeRateDocument(snap *firestore.DocumentSnapshot) (domain.RateSnapshot, error) {
	var doc rateDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.RateSnapshot{}, err
	}
	if doc.Rate22K <= 0 || doc.Rate24K <= 0 {
		return domain.RateSnapshot{}, errors.New("rates must be positive")
	}
	return domain.RateSnapshot{
		Rate22K:    doc.Rate22K,
		Rate24K:    doc.Rate24K,
		Currency:   strings.ToUpper(strings.TrimSpace(doc.Currency)),
		ObservedAt: doc.ObservedAt.UTC(),
	}, nil
}

var _ repositories.RateSource = (*RateSource)(nil)
