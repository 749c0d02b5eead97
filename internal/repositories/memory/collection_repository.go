// Package memory provides in-process backends used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

// CollectionRepository keeps collections in a map guarded by a mutex.
type CollectionRepository struct {
	mu    sync.RWMutex
	data  map[repositories.Scope]map[domain.EntryKey]domain.CollectionEntry
	clock func() time.Time
}

// NewCollectionRepository constructs an empty repository. A nil clock uses time.Now.
func NewCollectionRepository(clock func() time.Time) *CollectionRepository {
	if clock == nil {
		clock = time.Now
	}
	return &CollectionRepository{
		data:  make(map[repositories.Scope]map[domain.EntryKey]domain.CollectionEntry),
		clock: func() time.Time { return clock().UTC() },
	}
}

// List returns entries ordered by AddedAt, then key.
func (r *CollectionRepository) List(ctx context.Context, scope repositories.Scope) ([]domain.CollectionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.data[scope]
	entries := make([]domain.CollectionEntry, 0, len(rows))
	for _, entry := range rows {
		entries = append(entries, entry.Clone())
	}
	SortEntries(entries)
	return entries, nil
}

// Get returns a single entry.
func (r *CollectionRepository) Get(ctx context.Context, scope repositories.Scope, key domain.EntryKey) (domain.CollectionEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.CollectionEntry{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.data[scope][key]
	if !ok {
		return domain.CollectionEntry{}, repositories.ErrNotFound("memory.collections.get", key)
	}
	return entry.Clone(), nil
}

// Insert stores a new entry and rejects duplicates.
func (r *CollectionRepository) Insert(ctx context.Context, scope repositories.Scope, entry domain.CollectionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, ok := r.data[scope]
	if !ok {
		rows = make(map[domain.EntryKey]domain.CollectionEntry)
		r.data[scope] = rows
	}
	if _, exists := rows[entry.Key]; exists {
		return repositories.ErrConflict("memory.collections.insert", entry.Key)
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = r.clock()
	}
	rows[entry.Key] = entry.Clone()
	return nil
}

// UpdateQuantity overwrites the quantity of an existing entry.
func (r *CollectionRepository) UpdateQuantity(ctx context.Context, scope repositories.Scope, key domain.EntryKey, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data[scope][key]
	if !ok {
		return repositories.ErrNotFound("memory.collections.update_quantity", key)
	}
	entry.Quantity = quantity
	r.data[scope][key] = entry
	return nil
}

// Delete removes the entry when present.
func (r *CollectionRepository) Delete(ctx context.Context, scope repositories.Scope, key domain.EntryKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.data[scope], key)
	return nil
}

// SortEntries orders entries by AddedAt, then key, so listings are stable across backends.
func SortEntries(entries []domain.CollectionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].AddedAt.Before(entries[j].AddedAt)
		}
		return entries[i].Key.String() < entries[j].Key.String()
	})
}

var _ repositories.CollectionRepository = (*CollectionRepository)(nil)
