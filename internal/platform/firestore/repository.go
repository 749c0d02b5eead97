package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// MalformedFunc is told about documents that failed to decode and were skipped.
type MalformedFunc func(id string, err error)

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}

// DecodeSnapshot decodes one snapshot into a Document.
func DecodeSnapshot[T any](snap *firestore.DocumentSnapshot, decode Decoder[T]) (Document[T], error) {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	entity, err := decode(snap)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       entity,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

// ReadAll drains iter, decoding every document. Documents that fail to decode are reported to
// onMalformed and skipped instead of failing the whole read.
func ReadAll[T any](op string, iter *firestore.DocumentIterator, decode Decoder[T], onMalformed MalformedFunc) ([]Document[T], error) {
	defer iter.Stop()
	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		doc, err := DecodeSnapshot(snap, decode)
		if err != nil {
			if onMalformed != nil {
				onMalformed(snap.Ref.ID, fmt.Errorf("decode %s: %w", snap.Ref.ID, err))
			}
			continue
		}
		docs = append(docs, doc)
	}
}

// Query runs q and decodes every document it returns.
func Query[T any](ctx context.Context, op string, q firestore.Query, decode Decoder[T], onMalformed MalformedFunc) ([]Document[T], error) {
	return ReadAll(op, q.Documents(ctx), decode, onMalformed)
}
