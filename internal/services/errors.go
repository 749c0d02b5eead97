package services

import (
	"errors"
	"fmt"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

var (
	// ErrNotAuthenticated indicates an intent or fetch was issued without a signed-in identity.
	ErrNotAuthenticated = errors.New("sync engine: not authenticated")
	// ErrInvalidIntent indicates the caller supplied an intent that cannot be applied.
	ErrInvalidIntent = errors.New("sync engine: invalid intent")
	// ErrEngineClosed indicates the engine was closed.
	ErrEngineClosed = errors.New("sync engine: closed")
	// ErrRateFetch indicates a commodity rate refresh failed; the previous snapshot is still served.
	ErrRateFetch = errors.New("rate cache: fetch failed")
	// ErrTimerState indicates a checkout timer operation is not allowed in its current state.
	ErrTimerState = errors.New("checkout timer: invalid state")
)

// ConflictError reports that the remote store already held the key on Add. It is informational.
type ConflictError struct {
	Key domain.EntryKey
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync engine: %s already exists remotely", e.Key)
}

// TransientError reports a remote failure that was rolled back locally.
type TransientError struct {
	Key   domain.EntryKey
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("sync engine: %s rolled back: %v", e.Key, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }
