package domain

import "time"

// RateSnapshot holds the per-gram commodity rates for each purity tier at one observation.
type RateSnapshot struct {
	Rate22K    float64
	Rate24K    float64
	Currency   string
	ObservedAt time.Time
}

// RateFor returns the per-gram rate for the tier.
func (s RateSnapshot) RateFor(tier Tier) (float64, bool) {
	switch tier {
	case Tier22K:
		return s.Rate22K, true
	case Tier24K:
		return s.Rate24K, true
	}
	return 0, false
}

// NewerThan reports whether s was observed strictly after other.
func (s RateSnapshot) NewerThan(other RateSnapshot) bool {
	return s.ObservedAt.After(other.ObservedAt)
}

// CheckoutSession bounds how long a checkout flow may run on one rate snapshot.
type CheckoutSession struct {
	ID        string
	StartedAt time.Time
	Deadline  time.Time
}
