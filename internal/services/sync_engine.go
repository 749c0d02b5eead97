package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/observability"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/textutil"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
	"github.com/navajothi-jewels/storefront-sync/internal/session"
)

const (
	defaultDispatchTimeout = 15 * time.Second
	maxRetainedNotices     = 20
)

var (
	errEngineRepositoryRequired = errors.New("sync engine: repository is required")
	errEngineSessionRequired    = errors.New("sync engine: session is required")
)

// NoticeKind classifies a user-facing notice raised by a remote completion.
type NoticeKind string

const (
	// NoticeConflict reports that an Add found the key already present remotely.
	NoticeConflict NoticeKind = "conflict"
	// NoticeError reports that a remote mutation failed and the local change was rolled back.
	NoticeError NoticeKind = "error"
)

// Notice is raised for conflicts and rollbacks of the live operation on a key.
type Notice struct {
	Kind       NoticeKind
	Collection domain.CollectionKind
	Key        domain.EntryKey
	Err        error
	At         time.Time
}

// KeyPhase is the optimistic state of a key.
type KeyPhase string

const (
	// PhaseDesired means the intent is applied locally but not yet dispatched.
	PhaseDesired KeyPhase = "desired"
	// PhasePending means the remote mutation is in flight.
	PhasePending KeyPhase = "pending"
	// PhaseConfirmed means no operation is outstanding for the key.
	PhaseConfirmed KeyPhase = "confirmed"
)

// SyncEngineDeps wires the collaborators of a SyncEngine.
type SyncEngineDeps struct {
	Kind            domain.CollectionKind
	Store           *CollectionStore
	Repository      repositories.CollectionRepository
	Session         *session.Context
	Logger          *zap.Logger
	Metrics         *observability.SyncMetrics
	Clock           func() time.Time
	IDGenerator     func() string
	OnNotice        func(Notice)
	DispatchTimeout time.Duration
}

type opRecord struct {
	id     string
	op     domain.PendingOperation
	before entrySnapshot
}

// keyState tracks the unresolved operations on one key. chain holds them in issue order and its
// last element is the live operation; rollback is the last state the remote is known to hold, restored
// when the live operation fails with no unresolved predecessor.
type keyState struct {
	phase    KeyPhase
	op       domain.PendingOperation
	epoch    uint64
	rollback entrySnapshot
	chain    []opRecord
}

func (s *keyState) indexOf(id string) int {
	for i, rec := range s.chain {
		if rec.id == id {
			return i
		}
	}
	return -1
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeTransient
)

// SyncEngine applies intents optimistically to a CollectionStore and reconciles them with the
// authoritative repository.
type SyncEngine struct {
	kind     domain.CollectionKind
	store    *CollectionStore
	repo     repositories.CollectionRepository
	session  *session.Context
	logger   *zap.Logger
	metrics  *observability.SyncMetrics
	now      func() time.Time
	newID    func() string
	onNotice func(Notice)
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	states           map[domain.EntryKey]*keyState
	reconcileSeq     uint64
	appliedReconcile uint64
	notices          []Notice
	closed           bool
}

// NewSyncEngine constructs a SyncEngine enforcing dependency validation.
func NewSyncEngine(deps SyncEngineDeps) (*SyncEngine, error) {
	if deps.Repository == nil {
		return nil, errEngineRepositoryRequired
	}
	if deps.Session == nil {
		return nil, errEngineSessionRequired
	}
	if !deps.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrInvalidIntent, deps.Kind)
	}

	store := deps.Store
	if store == nil {
		store = NewCollectionStore(deps.Kind)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	timeout := deps.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyncEngine{
		kind:     deps.Kind,
		store:    store,
		repo:     deps.Repository,
		session:  deps.Session,
		logger:   logger.With(zap.String("collection", string(deps.Kind))),
		metrics:  deps.Metrics,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		onNotice: deps.OnNotice,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		states:   make(map[domain.EntryKey]*keyState),
	}, nil
}

// Kind returns the collection the engine synchronises.
func (e *SyncEngine) Kind() domain.CollectionKind { return e.kind }

// Store returns the local collection mirror.
func (e *SyncEngine) Store() *CollectionStore { return e.store }

// Add inserts entry under key.
func (e *SyncEngine) Add(ctx context.Context, entry domain.CollectionEntry) error {
	return e.Apply(ctx, domain.Intent{Kind: domain.IntentAdd, Key: entry.Key, Entry: entry})
}

// Remove deletes key.
func (e *SyncEngine) Remove(ctx context.Context, key domain.EntryKey) error {
	return e.Apply(ctx, domain.Intent{Kind: domain.IntentRemove, Key: key})
}

// SetQuantity changes the quantity of key.
func (e *SyncEngine) SetQuantity(ctx context.Context, key domain.EntryKey, quantity int) error {
	return e.Apply(ctx, domain.Intent{Kind: domain.IntentSetQuantity, Key: key, Quantity: quantity})
}

// Apply mutates the local store synchronously and dispatches the remote mutation in the background.
func (e *SyncEngine) Apply(ctx context.Context, intent domain.Intent) error {
	if err := validateIntent(intent); err != nil {
		return err
	}
	current := e.session.Snapshot()
	if !current.SignedIn {
		return ErrNotAuthenticated
	}

	key := intent.Key
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	// Reset runs under mu after the epoch moves, so an intent for a replaced identity stops here.
	if !e.session.IsCurrent(current.Epoch) {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}

	before := e.store.snapshot(key)
	now := e.now()
	switch intent.Kind {
	case domain.IntentAdd:
		entry := intent.Entry
		entry.Key = key
		entry.Display = textutil.SanitizeDisplay(entry.Display)
		if entry.Quantity <= 0 {
			entry.Quantity = 1
		}
		if entry.AddedAt.IsZero() {
			entry.AddedAt = now
			if before.present {
				entry.AddedAt = before.entry.AddedAt
			}
		}
		intent.Entry = entry
		e.store.put(entry)
	case domain.IntentRemove:
		e.store.remove(key)
	case domain.IntentSetQuantity:
		if !e.store.setQuantity(key, intent.Quantity) {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s is not in the %s", ErrInvalidIntent, key, e.kind)
		}
	}

	op := domain.PendingOperation{ID: e.newID(), Key: key, Kind: intent.Kind, IssuedAt: now}
	st, ok := e.states[key]
	if !ok || st.epoch != current.Epoch {
		st = &keyState{epoch: current.Epoch, rollback: before}
		e.states[key] = st
	}
	st.chain = append(st.chain, opRecord{id: op.ID, op: op, before: before})
	st.op = op
	st.phase = PhaseDesired
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.Intent(ctx, string(e.kind), string(intent.Kind))
	go e.dispatch(intent, op, current)
	return nil
}

func (e *SyncEngine) dispatch(intent domain.Intent, op domain.PendingOperation, owner session.State) {
	defer e.wg.Done()

	e.mu.Lock()
	if st, ok := e.states[op.Key]; ok && st.op.ID == op.ID {
		st.phase = PhasePending
	}
	e.mu.Unlock()

	ctx := requestctx.WithOrigin(e.ctx, e.session.ID())
	ctx = requestctx.WithUserID(ctx, owner.Identity.UID)
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "sync.dispatch",
		attribute.String("collection", string(e.kind)),
		attribute.String("intent", string(intent.Kind)),
		attribute.String("op_id", op.ID),
	)

	scope := repositories.Scope{UID: owner.Identity.UID, Kind: e.kind}
	var err error
	switch intent.Kind {
	case domain.IntentAdd:
		err = e.repo.Insert(ctx, scope, intent.Entry)
	case domain.IntentRemove:
		err = e.repo.Delete(ctx, scope, intent.Key)
	case domain.IntentSetQuantity:
		err = e.repo.UpdateQuantity(ctx, scope, intent.Key, intent.Quantity)
	}
	observability.EndSpan(span, err)
	e.complete(op, owner.Epoch, classify(intent.Kind, err), err)
}

func classify(kind domain.IntentKind, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case kind == domain.IntentAdd && repositories.IsConflict(err):
		return outcomeConflict
	case kind == domain.IntentRemove && repositories.IsNotFound(err):
		return outcomeSuccess
	default:
		return outcomeTransient
	}
}

func (e *SyncEngine) complete(op domain.PendingOperation, epoch uint64, result outcome, cause error) {
	e.mu.Lock()
	if !e.session.IsCurrent(epoch) {
		e.mu.Unlock()
		e.logger.Debug("sync.stale_completion", zap.String("opId", op.ID), zap.String("reason", "identity changed"))
		return
	}
	st, ok := e.states[op.Key]
	idx := -1
	if ok {
		idx = st.indexOf(op.ID)
	}
	if idx < 0 {
		e.mu.Unlock()
		e.logger.Debug("sync.stale_completion", zap.String("opId", op.ID), zap.String("reason", "reconciled"))
		return
	}
	live := idx == len(st.chain)-1

	var notice *Notice
	switch {
	case result != outcomeTransient:
		if live {
			delete(e.states, op.Key)
		} else {
			// the remote now reflects this op, so later ops roll back to its result
			st.rollback = st.chain[idx+1].before
			st.chain = st.chain[idx+1:]
		}
		if result == outcomeConflict && live {
			notice = &Notice{Kind: NoticeConflict, Collection: e.kind, Key: op.Key, Err: &ConflictError{Key: op.Key}, At: e.now()}
		}
	case live && idx == 0:
		e.store.restore(st.rollback)
		delete(e.states, op.Key)
		notice = &Notice{Kind: NoticeError, Collection: e.kind, Key: op.Key, Err: &TransientError{Key: op.Key, Cause: cause}, At: e.now()}
	case live:
		// undo only this intent; the newest unresolved predecessor becomes live and its own
		// completion settles the key
		e.store.restore(st.chain[idx].before)
		st.chain = st.chain[:idx]
		st.op = st.chain[idx-1].op
		st.phase = PhasePending
		notice = &Notice{Kind: NoticeError, Collection: e.kind, Key: op.Key, Err: &TransientError{Key: op.Key, Cause: cause}, At: e.now()}
	default:
		// a superseded failure leaves the rollback target untouched, so the live op inherits it
		st.chain = append(st.chain[:idx], st.chain[idx+1:]...)
	}
	if notice != nil {
		e.notices = append(e.notices, *notice)
		if len(e.notices) > maxRetainedNotices {
			e.notices = e.notices[len(e.notices)-maxRetainedNotices:]
		}
	}
	e.mu.Unlock()

	switch {
	case result == outcomeConflict:
		e.metrics.Conflict(e.ctx, string(e.kind))
		e.logger.Info("sync.conflict", zap.String("key", op.Key.String()), zap.Bool("live", live))
	case result == outcomeTransient && live:
		e.metrics.Rollback(e.ctx, string(e.kind))
		e.logger.Warn("sync.rollback", zap.String("key", op.Key.String()), zap.String("intent", string(op.Kind)), zap.Error(cause))
	case result == outcomeTransient:
		e.logger.Info("sync.superseded_failure", zap.String("key", op.Key.String()), zap.Error(cause))
	}
	if notice != nil && e.onNotice != nil {
		e.onNotice(*notice)
	}
}

// Reconcile replaces the store with the authoritative set and drops every pending marker.
// Completions of dropped operations are discarded when they arrive.
func (e *SyncEngine) Reconcile(ctx context.Context) error {
	current := e.session.Snapshot()
	if !current.SignedIn {
		return ErrNotAuthenticated
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.reconcileSeq++
	seq := e.reconcileSeq
	e.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "sync.reconcile", attribute.String("collection", string(e.kind)))
	entries, err := e.repo.List(ctx, repositories.Scope{UID: current.Identity.UID, Kind: e.kind})
	observability.EndSpan(span, err)
	if err != nil {
		e.metrics.Reconcile(ctx, string(e.kind), false)
		e.logger.Warn("sync.reconcile_failed", zap.Error(err))
		return fmt.Errorf("sync engine: reconcile %s: %w", e.kind, err)
	}

	e.mu.Lock()
	if !e.session.IsCurrent(current.Epoch) || seq <= e.appliedReconcile {
		e.mu.Unlock()
		e.logger.Debug("sync.stale_reconcile", zap.Uint64("seq", seq))
		return nil
	}
	e.appliedReconcile = seq
	dropped := len(e.states)
	e.store.replaceAll(entries)
	e.states = make(map[domain.EntryKey]*keyState)
	e.mu.Unlock()

	e.metrics.Reconcile(ctx, string(e.kind), true)
	e.logger.Debug("sync.reconciled", zap.Int("entries", len(entries)), zap.Int("droppedPending", dropped))
	return nil
}

// Reset empties the store and forgets pending operations and in-flight reconciliations.
// It is called when the identity changes.
func (e *SyncEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.replaceAll(nil)
	e.states = make(map[domain.EntryKey]*keyState)
	e.appliedReconcile = e.reconcileSeq
	e.notices = nil
}

// IsPending reports whether key has an unacknowledged operation.
func (e *SyncEngine) IsPending(key domain.EntryKey) bool {
	return e.Phase(key) != PhaseConfirmed
}

// Phase returns the optimistic phase of key.
func (e *SyncEngine) Phase(key domain.EntryKey) KeyPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[key]; ok {
		return st.phase
	}
	return PhaseConfirmed
}

// Pending lists the live operation of every pending key, oldest first.
func (e *SyncEngine) Pending() []domain.PendingOperation {
	e.mu.Lock()
	out := make([]domain.PendingOperation, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st.op)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Notices returns the most recent conflict and rollback notices.
func (e *SyncEngine) Notices() []Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Notice(nil), e.notices...)
}

// Wait blocks until every dispatched remote mutation has completed.
func (e *SyncEngine) Wait() {
	e.wg.Wait()
}

// Close cancels in-flight remote mutations and waits for them to finish.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

func validateIntent(intent domain.Intent) error {
	if strings.TrimSpace(intent.Key.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidIntent)
	}
	switch intent.Kind {
	case domain.IntentAdd, domain.IntentRemove:
		return nil
	case domain.IntentSetQuantity:
		if intent.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidIntent)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown intent %q", ErrInvalidIntent, intent.Kind)
	}
}
