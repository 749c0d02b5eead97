// Package firestore implements the collection store, change feed and rate source on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	pfirestore "github.com/navajothi-jewels/storefront-sync/internal/platform/firestore"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/textutil"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

const (
	collectionPathPattern = "users/%s/%s"

	// A quantity write racing a peer device retries a few times, then surfaces as a conflict.
	quantityTxAttempts = 3
	quantityTxTimeout  = 10 * time.Second
)

var errNotInitialised = errors.New("collection repository not initialised")

// CollectionRepository stores cart and wishlist rows under users/{uid}/{kind}/{item__variant}.
type CollectionRepository struct {
	provider *pfirestore.Provider
	logger   *zap.Logger
	clock    func() time.Time
}

// NewCollectionRepository constructs a Firestore-backed collection repository.
func NewCollectionRepository(provider *pfirestore.Provider, logger *zap.Logger) (*CollectionRepository, error) {
	if provider == nil {
		return nil, errors.New("collection repository requires firestore provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionRepository{
		provider: provider,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// List returns the scope's rows ordered by addedAt. Malformed rows are logged and skipped.
func (r *CollectionRepository) List(ctx context.Context, scope repositories.Scope) ([]domain.CollectionEntry, error) {
	coll, err := r.collection(ctx, scope)
	if err != nil {
		return nil, err
	}
	docs, err := pfirestore.Query(ctx, "collections.list", coll.OrderBy("addedAt", firestore.Asc), decodeEntryDocument, func(id string, err error) {
		r.logger.Warn("collections.malformed_row",
			zap.String("uid", scope.UID),
			zap.String("collection", string(scope.Kind)),
			zap.String("docId", id),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.CollectionEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data)
	}
	return entries, nil
}

// Get loads a single row.
func (r *CollectionRepository) Get(ctx context.Context, scope repositories.Scope, key domain.EntryKey) (domain.CollectionEntry, error) {
	coll, err := r.collection(ctx, scope)
	if err != nil {
		return domain.CollectionEntry{}, err
	}
	snap, err := coll.Doc(documentID(key)).Get(ctx)
	if err != nil {
		return domain.CollectionEntry{}, pfirestore.WrapError("collections.get", err)
	}
	doc, err := pfirestore.DecodeSnapshot(snap, decodeEntryDocument)
	if err != nil {
		return domain.CollectionEntry{}, fmt.Errorf("collections.get: %w", err)
	}
	return doc.Data, nil
}

// Insert creates the row. An existing row surfaces as a conflict.
func (r *CollectionRepository) Insert(ctx context.Context, scope repositories.Scope, entry domain.CollectionEntry) error {
	coll, err := r.collection(ctx, scope)
	if err != nil {
		return err
	}
	if entry.Key.IsZero() {
		return errors.New("collection repository: item id is required")
	}
	now := r.clock()
	doc := encodeEntryDocument(entry, now)
	doc.Origin = requestctx.Origin(ctx)
	if _, err := coll.Doc(documentID(entry.Key)).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("collections.insert", err)
	}
	return nil
}

// UpdateQuantity overwrites the quantity inside a transaction so a missing row is reported as not found.
func (r *CollectionRepository) UpdateQuantity(ctx context.Context, scope repositories.Scope, key domain.EntryKey, quantity int) error {
	coll, err := r.collection(ctx, scope)
	if err != nil {
		return err
	}
	ref := coll.Doc(documentID(key))
	origin := requestctx.Origin(ctx)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("collections.update_quantity", err)
			}
			return err
		}
		updates := []firestore.Update{
			{Path: "quantity", Value: quantity},
			{Path: "updatedAt", Value: r.clock()},
		}
		if origin != "" {
			updates = append(updates, firestore.Update{Path: "origin", Value: origin})
		} else {
			updates = append(updates, firestore.Update{Path: "origin", Value: firestore.Delete})
		}
		return tx.Update(ref, updates)
	}, pfirestore.WithTxAttempts(quantityTxAttempts), pfirestore.WithTxTimeout(quantityTxTimeout))
}

// Delete removes the row; deleting a missing row succeeds.
func (r *CollectionRepository) Delete(ctx context.Context, scope repositories.Scope, key domain.EntryKey) error {
	coll, err := r.collection(ctx, scope)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(documentID(key)).Delete(ctx); err != nil {
		return pfirestore.WrapError("collections.delete", err)
	}
	return nil
}

func (r *CollectionRepository) collection(ctx context.Context, scope repositories.Scope) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errNotInitialised
	}
	return scopeCollection(ctx, r.provider, scope)
}

func scopeCollection(ctx context.Context, provider *pfirestore.Provider, scope repositories.Scope) (*firestore.CollectionRef, error) {
	uid := strings.TrimSpace(scope.UID)
	if uid == "" {
		return nil, errors.New("collection repository: user id is required")
	}
	if !scope.Kind.Valid() {
		return nil, fmt.Errorf("collection repository: unknown collection %q", scope.Kind)
	}
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(collectionPathPattern, uid, scope.Kind)), nil
}

// idPartEscaper finishes url.PathEscape so parts never contain the separator or a bare dot.
var idPartEscaper = strings.NewReplacer("_", "%5F", ".", "%2E")

// documentID encodes the composite key as item__variant. Each part is percent-escaped, so the
// encoding is reversible and distinct keys never share a document.
func documentID(key domain.EntryKey) string {
	item := escapeIDPart(key.ItemID)
	if key.Variant == "" {
		return item
	}
	return item + "__" + escapeIDPart(string(key.Variant))
}

func escapeIDPart(part string) string {
	return idPartEscaper.Replace(url.PathEscape(part))
}

type entryDocument struct {
	ItemID           string    `firestore:"itemId"`
	Variant          string    `firestore:"variant"`
	Quantity         int       `firestore:"quantity"`
	WeightGrams      float64   `firestore:"weightGrams"`
	SurchargePercent float64   `firestore:"surchargePercent"`
	Name             string    `firestore:"name,omitempty"`
	SKU              string    `firestore:"sku,omitempty"`
	ImageURL         string    `firestore:"imageUrl,omitempty"`
	Origin           string    `firestore:"origin,omitempty"`
	AddedAt          time.Time `firestore:"addedAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func encodeEntryDocument(entry domain.CollectionEntry, now time.Time) entryDocument {
	addedAt := entry.AddedAt.UTC()
	if entry.AddedAt.IsZero() {
		addedAt = now
	}
	display := textutil.SanitizeDisplay(entry.Display)
	return entryDocument{
		ItemID:           strings.TrimSpace(entry.Key.ItemID),
		Variant:          string(entry.Key.Variant),
		Quantity:         entry.Quantity,
		WeightGrams:      entry.WeightGrams,
		SurchargePercent: entry.SurchargePercent,
		Name:             display.Name,
		SKU:              display.SKU,
		ImageURL:         display.ImageURL,
		AddedAt:          addedAt,
		UpdatedAt:        now,
	}
}

func decodeEntryDocument(snap *firestore.DocumentSnapshot) (domain.CollectionEntry, error) {
	var doc entryDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.CollectionEntry{}, err
	}
	return doc.toDomain()
}

func (d entryDocument) toDomain() (domain.CollectionEntry, error) {
	key := domain.NewEntryKey(d.ItemID, d.Variant)
	switch {
	case key.IsZero():
		return domain.CollectionEntry{}, errors.New("itemId is required")
	case d.Quantity < 0:
		return domain.CollectionEntry{}, fmt.Errorf("quantity %d is negative", d.Quantity)
	case d.WeightGrams < 0:
		return domain.CollectionEntry{}, fmt.Errorf("weightGrams %v is negative", d.WeightGrams)
	}
	return domain.CollectionEntry{
		Key:              key,
		Quantity:         d.Quantity,
		WeightGrams:      d.WeightGrams,
		SurchargePercent: d.SurchargePercent,
		Display: textutil.SanitizeDisplay(domain.EntryDisplay{
			Name:     d.Name,
			SKU:      d.SKU,
			ImageURL: d.ImageURL,
		}),
		AddedAt: d.AddedAt.UTC(),
	}, nil
}

var _ repositories.CollectionRepository = (*CollectionRepository)(nil)
