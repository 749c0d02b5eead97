package firestore

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

func TestDocumentIDEncodesCompositeKey(t *testing.T) {
	if got := documentID(domain.NewEntryKey("ring/1", "22k")); got != "ring%2F1__22K" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := documentID(domain.EntryKey{ItemID: "coin"}); got != "coin" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := documentID(domain.EntryKey{ItemID: ".."}); got != "%2E%2E" {
		t.Fatalf("unexpected id %q", got)
	}
}

func TestDocumentIDKeepsDistinctKeysApart(t *testing.T) {
	keys := []domain.EntryKey{
		domain.NewEntryKey("a/b", "22K"),
		domain.NewEntryKey("a_b", "22K"),
		domain.NewEntryKey("a%2Fb", "22K"),
		domain.NewEntryKey("a__22K", ""),
		domain.NewEntryKey("a", "22K"),
		{ItemID: "a", Variant: "22K__x"},
		{ItemID: "a__22K", Variant: "x"},
	}
	seen := make(map[string]domain.EntryKey, len(keys))
	for _, key := range keys {
		id := documentID(key)
		if strings.Contains(id, "/") {
			t.Fatalf("id %q for %v contains a slash", id, key)
		}
		if prev, ok := seen[id]; ok {
			t.Fatalf("keys %v and %v share document id %q", prev, key, id)
		}
		seen[id] = key

		item, _, _ := strings.Cut(id, "__")
		decoded, err := url.PathUnescape(item)
		if err != nil || decoded != key.ItemID {
			t.Fatalf("item part of %q decodes to %q (%v), want %q", id, decoded, err, key.ItemID)
		}
	}
}

func TestEntryDocumentRoundTripSanitises(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	doc := encodeEntryDocument(domain.CollectionEntry{
		Key:         domain.NewEntryKey("ring-1", "24 karat"),
		Quantity:    2,
		WeightGrams: 3.5,
		Display:     domain.EntryDisplay{Name: "<i>Ring</i>", ImageURL: "https://cdn.example.com/r.jpg"},
	}, now)
	if doc.Variant != "24K" || doc.Name != "Ring" || !doc.AddedAt.Equal(now) {
		t.Fatalf("unexpected document %+v", doc)
	}

	entry, err := doc.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if entry.Key.Variant != domain.Tier24K || entry.Quantity != 2 || entry.Display.ImageURL == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestEntryDocumentRejectsMalformedRows(t *testing.T) {
	cases := map[string]entryDocument{
		"missing item":      {Quantity: 1},
		"negative quantity": {ItemID: "ring", Quantity: -1},
		"negative weight":   {ItemID: "ring", Quantity: 1, WeightGrams: -2},
	}
	for name, doc := range cases {
		if _, err := doc.toDomain(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
