package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a Firestore transaction. Firestore may call it more than once on contention.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes RunTransaction.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxTimeout bounds the whole transaction, retries included. A tighter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithTxAttempts caps how many times Firestore retries a contended transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

var (
	errNilClient = errors.New("firestore: client is nil")
	errNilTxFunc = errors.New("firestore: transaction function is nil")
)

// RunTransaction runs fn in a transaction on client and classifies the outcome with WrapError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errNilClient)
	case fn == nil:
		return WrapError("transaction", errNilTxFunc)
	}

	s := txSettings{attempts: 5, timeout: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	ctx, cancel := withCeiling(ctx, s.timeout)
	defer cancel()

	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(s.attempts)))
}

// withCeiling applies timeout only when ctx has no earlier deadline.
func withCeiling(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
