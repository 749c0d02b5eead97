package services

import (
	"sort"
	"sync"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

// CollectionStore is the local mirror of one collection for the current identity.
// Reads are safe from any goroutine; writes go through the SyncEngine.
type CollectionStore struct {
	kind domain.CollectionKind

	mu      sync.RWMutex
	entries map[domain.EntryKey]domain.CollectionEntry
	version uint64
}

// NewCollectionStore constructs an empty store for kind.
func NewCollectionStore(kind domain.CollectionKind) *CollectionStore {
	return &CollectionStore{
		kind:    kind,
		entries: make(map[domain.EntryKey]domain.CollectionEntry),
	}
}

// Kind returns the collection the store mirrors.
func (s *CollectionStore) Kind() domain.CollectionKind {
	return s.kind
}

// Entries returns the entries ordered by AddedAt, then key.
func (s *CollectionStore) Entries() []domain.CollectionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CollectionEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.Clone())
	}
	sortEntries(out)
	return out
}

// Get returns the entry for key.
func (s *CollectionStore) Get(key domain.EntryKey) (domain.CollectionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry.Clone(), ok
}

// Len returns the number of entries.
func (s *CollectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Version increments on every mutation; views use it to detect change.
func (s *CollectionStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// entrySnapshot captures one key's local state so it can be restored.
type entrySnapshot struct {
	key     domain.EntryKey
	entry   domain.CollectionEntry
	present bool
}

func (s *CollectionStore) snapshot(key domain.EntryKey) entrySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entrySnapshot{key: key, entry: entry, present: ok}
}

func (s *CollectionStore) restore(snap entrySnapshot) {
	if snap.present {
		s.put(snap.entry)
		return
	}
	s.remove(snap.key)
}

func (s *CollectionStore) put(entry domain.CollectionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry.Clone()
	s.version++
}

func (s *CollectionStore) remove(key domain.EntryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	s.version++
}

func (s *CollectionStore) setQuantity(key domain.EntryKey, quantity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	entry.Quantity = quantity
	s.entries[key] = entry
	s.version++
	return true
}

// replaceAll swaps the whole collection. Later duplicates of a key win.
func (s *CollectionStore) replaceAll(entries []domain.CollectionEntry) {
	next := make(map[domain.EntryKey]domain.CollectionEntry, len(entries))
	for _, entry := range entries {
		if entry.Key.IsZero() {
			continue
		}
		next[entry.Key] = entry.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = next
	s.version++
}

func sortEntries(entries []domain.CollectionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].AddedAt.Before(entries[j].AddedAt)
		}
		return entries[i].Key.String() < entries[j].Key.String()
	})
}
