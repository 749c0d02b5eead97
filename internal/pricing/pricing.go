// Package pricing derives display prices for collection entries from a commodity rate snapshot.
// Every function is pure: neither the entries nor the snapshot are mutated.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

// ErrInvalidVariant is returned when an entry's tier has no rate in the snapshot.
var ErrInvalidVariant = errors.New("pricing: invalid variant")

// Line is the priced view of a single entry.
type Line struct {
	Key       domain.EntryKey
	Quantity  int
	UnitPrice float64
	Amount    float64
}

// Summary aggregates priced lines.
type Summary struct {
	Currency string
	Lines    []Line
	Total    float64
}

// Price computes weight × rate × (100 + surcharge) / 100, rounded half away from zero to two
// decimals (the minor unit of the snapshot currency). Breakdown multiplies this rounded unit price
// by quantity and rounds each line and the total again, so totals match the displayed lines.
func Price(entry domain.CollectionEntry, snapshot domain.RateSnapshot) (float64, error) {
	rate, ok := snapshot.RateFor(entry.Key.Variant)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVariant, entry.Key.Variant)
	}
	if entry.WeightGrams <= 0 || math.IsNaN(entry.WeightGrams) {
		return 0, nil
	}
	return round2(entry.WeightGrams * rate * (100 + entry.SurchargePercent) / 100), nil
}

// Total sums Price × Quantity over entries. An empty slice totals zero.
func Total(entries []domain.CollectionEntry, snapshot domain.RateSnapshot) (float64, error) {
	summary, err := Breakdown(entries, snapshot)
	if err != nil {
		return 0, err
	}
	return summary.Total, nil
}

// Breakdown prices each entry and returns per-line amounts along with the total.
func Breakdown(entries []domain.CollectionEntry, snapshot domain.RateSnapshot) (Summary, error) {
	summary := Summary{Currency: snapshot.Currency}
	if len(entries) == 0 {
		return summary, nil
	}
	summary.Lines = make([]Line, 0, len(entries))
	var total float64
	for _, entry := range entries {
		unit, err := Price(entry, snapshot)
		if err != nil {
			return Summary{}, fmt.Errorf("price %s: %w", entry.Key, err)
		}
		qty := entry.Quantity
		if qty < 0 {
			qty = 0
		}
		amount := round2(unit * float64(qty))
		summary.Lines = append(summary.Lines, Line{
			Key:       entry.Key,
			Quantity:  qty,
			UnitPrice: unit,
			Amount:    amount,
		})
		total += amount
	}
	summary.Total = round2(total)
	return summary, nil
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
