// Package repositories declares the persistence and messaging boundaries of the sync engine.
// Implementations live in the backend subpackages (firestore, sqlite, pubsub, memory).
package repositories

import (
	"context"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

// Scope identifies one collection of one identity in the authoritative store.
type Scope struct {
	UID  string
	Kind domain.CollectionKind
}

// Channel returns the change feed channel for the scope.
func (s Scope) Channel() domain.Channel {
	return domain.Channel{Identity: s.UID, Kind: s.Kind}
}

// CollectionRepository is the authoritative store for carts and wishlists.
type CollectionRepository interface {
	// List returns every entry of the scope. Rows that cannot be decoded are skipped.
	List(ctx context.Context, scope Scope) ([]domain.CollectionEntry, error)
	// Get returns a single entry or a RepositoryError with IsNotFound.
	Get(ctx context.Context, scope Scope, key domain.EntryKey) (domain.CollectionEntry, error)
	// Insert creates the entry. An existing key yields a RepositoryError with IsConflict.
	Insert(ctx context.Context, scope Scope, entry domain.CollectionEntry) error
	// UpdateQuantity sets the quantity of an existing entry. A missing key yields IsNotFound.
	UpdateQuantity(ctx context.Context, scope Scope, key domain.EntryKey, quantity int) error
	// Delete removes the entry. Deleting an absent key succeeds.
	Delete(ctx context.Context, scope Scope, key domain.EntryKey) error
}

// Subscription is a live handle on one change feed channel.
type Subscription interface {
	// Events delivers change notifications. It is closed once the subscription ends.
	Events() <-chan domain.ChangeEvent
	// Err reports why the subscription ended, or nil after Unsubscribe.
	Err() error
	// Unsubscribe stops delivery immediately. It is safe to call more than once.
	Unsubscribe()
}

// ChangeFeed opens identity scoped change notification channels.
type ChangeFeed interface {
	Subscribe(ctx context.Context, channel domain.Channel) (Subscription, error)
}

// ChangePublisher announces that a channel's authoritative data changed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, event domain.ChangeEvent) error
}

// RateSource fetches the latest commodity rate snapshot.
type RateSource interface {
	FetchLatestRates(ctx context.Context) (domain.RateSnapshot, error)
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}
