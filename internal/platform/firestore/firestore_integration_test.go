//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/navajothi-jewels/storefront-sync/internal/platform/config"
	pfirestore "github.com/navajothi-jewels/storefront-sync/internal/platform/firestore"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestProviderQueryAndTransaction(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "test-project", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("expected firestore client, got error: %v", err)
	}
	coll := client.Collection("samples-" + time.Now().Format("150405.000"))

	if _, err := coll.Doc("sample-1").Create(ctx, sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := coll.Doc("broken").Create(ctx, map[string]any{"name": 42}); err != nil {
		t.Fatalf("create malformed failed: %v", err)
	}

	_, err = coll.Doc("sample-1").Create(ctx, sampleEntity{Name: "again"})
	type conflictClassifier interface{ IsConflict() bool }
	var cls conflictClassifier
	if !errors.As(pfirestore.WrapError("samples.create", err), &cls) || !cls.IsConflict() {
		t.Fatalf("expected duplicate create to classify as conflict, got %v", err)
	}

	var skipped []string
	docs, err := pfirestore.Query(ctx, "samples.list", coll.Query, pfirestore.StructDecoder[sampleEntity](), func(id string, err error) {
		skipped = append(skipped, id)
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Data.Name != "alpha" {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if len(skipped) != 1 || skipped[0] != "broken" {
		t.Fatalf("expected malformed document to be skipped, got %v", skipped)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := coll.Doc("sample-1")
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var entity sampleEntity
		if err := snap.DataTo(&entity); err != nil {
			return err
		}
		entity.Count++
		return tx.Set(ref, entity)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}

	if err := provider.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := provider.Client(ctx); !errors.Is(err, pfirestore.ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
