package domain

import (
	"strings"
	"time"
)

// CollectionKind names a per-identity synced collection.
type CollectionKind string

const (
	// CollectionCart is the shopping cart.
	CollectionCart CollectionKind = "cart"
	// CollectionWishlist is the saved-for-later list.
	CollectionWishlist CollectionKind = "wishlist"
)

// CollectionKinds lists every synced collection in a stable order.
func CollectionKinds() []CollectionKind {
	return []CollectionKind{CollectionCart, CollectionWishlist}
}

// ParseCollectionKind normalises user supplied collection names.
func ParseCollectionKind(value string) (CollectionKind, bool) {
	switch CollectionKind(strings.ToLower(strings.TrimSpace(value))) {
	case CollectionCart, "carts":
		return CollectionCart, true
	case CollectionWishlist, "wishlists", "favorites":
		return CollectionWishlist, true
	}
	return "", false
}

// Valid reports whether the kind is one of the known collections.
func (k CollectionKind) Valid() bool {
	return k == CollectionCart || k == CollectionWishlist
}

// Tier is the purity grade selecting which commodity rate prices an entry.
type Tier string

const (
	// Tier22K is 22 karat (91.6%) gold.
	Tier22K Tier = "22K"
	// Tier24K is 24 karat (99.9%) gold.
	Tier24K Tier = "24K"
)

// ParseTier accepts the spellings seen in catalogue rows ("22k", "22KT", "24 karat").
// Unrecognised input is returned trimmed so pricing can reject it.
func ParseTier(value string) Tier {
	trimmed := strings.TrimSpace(value)
	normalised := strings.ToUpper(strings.ReplaceAll(trimmed, " ", ""))
	normalised = strings.TrimSuffix(normalised, "ARAT")
	normalised = strings.TrimSuffix(normalised, "KT")
	normalised = strings.TrimSuffix(normalised, "K")
	normalised = strings.TrimSuffix(normalised, "C")
	switch normalised {
	case "22":
		return Tier22K
	case "24":
		return Tier24K
	}
	return Tier(trimmed)
}

// Known reports whether the tier maps to a rate in RateSnapshot.
func (t Tier) Known() bool {
	return t == Tier22K || t == Tier24K
}

// EntryKey identifies an entry within one collection of one identity.
type EntryKey struct {
	ItemID  string
	Variant Tier
}

// NewEntryKey trims the item id and normalises the variant.
func NewEntryKey(itemID string, variant string) EntryKey {
	return EntryKey{ItemID: strings.TrimSpace(itemID), Variant: ParseTier(variant)}
}

// String renders the composite key as itemID:variant.
func (k EntryKey) String() string {
	if k.Variant == "" {
		return k.ItemID
	}
	return k.ItemID + ":" + string(k.Variant)
}

// IsZero reports whether the key carries no item id.
func (k EntryKey) IsZero() bool {
	return strings.TrimSpace(k.ItemID) == ""
}

// EntryDisplay carries catalogue metadata shown next to an entry. It never affects pricing.
type EntryDisplay struct {
	Name     string
	SKU      string
	ImageURL string
}

// CollectionEntry is one row of a cart or wishlist.
type CollectionEntry struct {
	Key              EntryKey
	Quantity         int
	WeightGrams      float64
	SurchargePercent float64
	Display          EntryDisplay
	AddedAt          time.Time
}

// Clone returns a copy safe to hand to callers.
func (e CollectionEntry) Clone() CollectionEntry {
	return e
}

// IntentKind enumerates the mutations a UI can request on a collection.
type IntentKind string

const (
	// IntentAdd inserts an entry.
	IntentAdd IntentKind = "add"
	// IntentRemove deletes an entry.
	IntentRemove IntentKind = "remove"
	// IntentSetQuantity changes the quantity of an entry.
	IntentSetQuantity IntentKind = "set_quantity"
)

// Intent is a requested mutation on a single key.
type Intent struct {
	Kind     IntentKind
	Key      EntryKey
	Entry    CollectionEntry
	Quantity int
}

// PendingOperation records an intent whose remote mutation has not been acknowledged.
type PendingOperation struct {
	ID       string
	Key      EntryKey
	Kind     IntentKind
	IssuedAt time.Time
}

// Identity is the signed-in principal owning the synced collections.
type Identity struct {
	UID   string
	Email string
}

// Channel names the identity scoped change feed for one collection.
type Channel struct {
	Identity string
	Kind     CollectionKind
}

// String renders the channel as kind:identity.
func (c Channel) String() string {
	return string(c.Kind) + ":" + c.Identity
}

// ChangeEvent signals that the authoritative collection may have changed. Its fields are
// informational only; consumers must refetch instead of trusting them.
// Origin names the session that caused the change when the backend can tell.
type ChangeEvent struct {
	Channel    Channel
	Kind       string
	Origin     string
	ObservedAt time.Time
}
