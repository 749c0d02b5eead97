package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories/memory"
	"github.com/navajothi-jewels/storefront-sync/internal/session"
)

var errBackendDown = &repositories.StoreError{Op: "test", Err: errors.New("backend down"), Unavailable: true}

type gatedResult struct {
	entries []domain.CollectionEntry
	err     error
}

type gatedCall struct {
	op       string
	key      domain.EntryKey
	quantity int
	result   chan gatedResult
}

func (c *gatedCall) release(err error) {
	c.result <- gatedResult{err: err}
}

func (c *gatedCall) releaseList(entries []domain.CollectionEntry) {
	c.result <- gatedResult{entries: entries}
}

// gatedRepository parks every call until the test releases it, so completions can be ordered.
type gatedRepository struct {
	calls chan *gatedCall
}

func newGatedRepository() *gatedRepository {
	return &gatedRepository{calls: make(chan *gatedCall, 32)}
}

func (r *gatedRepository) do(ctx context.Context, op string, key domain.EntryKey, quantity int) gatedResult {
	call := &gatedCall{op: op, key: key, quantity: quantity, result: make(chan gatedResult, 1)}
	r.calls <- call
	select {
	case res := <-call.result:
		return res
	case <-ctx.Done():
		return gatedResult{err: ctx.Err()}
	}
}

func (r *gatedRepository) next(t *testing.T) *gatedCall {
	t.Helper()
	select {
	case call := <-r.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for repository call")
		return nil
	}
}

// nextPair returns the two outstanding calls keyed by operation.
func (r *gatedRepository) nextPair(t *testing.T) map[string]*gatedCall {
	t.Helper()
	out := make(map[string]*gatedCall, 2)
	for i := 0; i < 2; i++ {
		call := r.next(t)
		out[call.op] = call
	}
	return out
}

func (r *gatedRepository) List(ctx context.Context, _ repositories.Scope) ([]domain.CollectionEntry, error) {
	res := r.do(ctx, "list", domain.EntryKey{}, 0)
	return res.entries, res.err
}

func (r *gatedRepository) Get(context.Context, repositories.Scope, domain.EntryKey) (domain.CollectionEntry, error) {
	return domain.CollectionEntry{}, errors.New("not used")
}

func (r *gatedRepository) Insert(ctx context.Context, _ repositories.Scope, entry domain.CollectionEntry) error {
	return r.do(ctx, "insert", entry.Key, entry.Quantity).err
}

func (r *gatedRepository) UpdateQuantity(ctx context.Context, _ repositories.Scope, key domain.EntryKey, quantity int) error {
	return r.do(ctx, "update", key, quantity).err
}

func (r *gatedRepository) Delete(ctx context.Context, _ repositories.Scope, key domain.EntryKey) error {
	return r.do(ctx, "delete", key, 0).err
}

type stubRepository struct {
	listFn   func(ctx context.Context, scope repositories.Scope) ([]domain.CollectionEntry, error)
	insertFn func(ctx context.Context, scope repositories.Scope, entry domain.CollectionEntry) error
	updateFn func(ctx context.Context, scope repositories.Scope, key domain.EntryKey, quantity int) error
	deleteFn func(ctx context.Context, scope repositories.Scope, key domain.EntryKey) error
}

func (s *stubRepository) List(ctx context.Context, scope repositories.Scope) ([]domain.CollectionEntry, error) {
	if s.listFn != nil {
		return s.listFn(ctx, scope)
	}
	return nil, nil
}

func (s *stubRepository) Get(context.Context, repositories.Scope, domain.EntryKey) (domain.CollectionEntry, error) {
	return domain.CollectionEntry{}, errors.New("not implemented")
}

func (s *stubRepository) Insert(ctx context.Context, scope repositories.Scope, entry domain.CollectionEntry) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, scope, entry)
	}
	return nil
}

func (s *stubRepository) UpdateQuantity(ctx context.Context, scope repositories.Scope, key domain.EntryKey, quantity int) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, scope, key, quantity)
	}
	return nil
}

func (s *stubRepository) Delete(ctx context.Context, scope repositories.Scope, key domain.EntryKey) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, scope, key)
	}
	return nil
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) record(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("op-%03d", n.Add(1)) }
}

func newTestEngine(t *testing.T, repo repositories.CollectionRepository, sess *session.Context) (*SyncEngine, *noticeRecorder) {
	t.Helper()
	rec := &noticeRecorder{}
	engine, err := NewSyncEngine(SyncEngineDeps{
		Kind:        domain.CollectionCart,
		Repository:  repo,
		Session:     sess,
		IDGenerator: sequentialIDs(),
		OnNotice:    rec.record,
	})
	if err != nil {
		t.Fatalf("NewSyncEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, rec
}

func signedInSession(uid string) *session.Context {
	sess := session.New(session.WithID("session-under-test"))
	sess.SignIn(domain.Identity{UID: uid})
	return sess
}

func ringEntry(id string) domain.CollectionEntry {
	return domain.CollectionEntry{Key: domain.NewEntryKey(id, "22K"), Quantity: 1, WeightGrams: 5, SurchargePercent: 10}
}

func TestNewSyncEngineValidatesDeps(t *testing.T) {
	if _, err := NewSyncEngine(SyncEngineDeps{Kind: domain.CollectionCart, Session: session.New()}); err == nil {
		t.Fatalf("expected repository requirement")
	}
	if _, err := NewSyncEngine(SyncEngineDeps{Kind: domain.CollectionCart, Repository: &stubRepository{}}); err == nil {
		t.Fatalf("expected session requirement")
	}
	if _, err := NewSyncEngine(SyncEngineDeps{Kind: "orders", Repository: &stubRepository{}, Session: session.New()}); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected unknown collection to be rejected, got %v", err)
	}
}

func TestSyncEngineAppliesLocallyBeforeRemoteAck(t *testing.T) {
	repo := newGatedRepository()
	engine, _ := newTestEngine(t, repo, signedInSession("uid-1"))
	entry := ringEntry("ring-1")
	entry.Quantity = 0
	entry.Display.Name = "<b>Temple</b>   ring"

	if err := engine.Add(context.Background(), entry); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok := engine.Store().Get(entry.Key)
	if !ok {
		t.Fatalf("expected entry to be visible before the remote ack")
	}
	if got.Quantity != 1 {
		t.Fatalf("expected quantity to default to 1, got %d", got.Quantity)
	}
	if got.Display.Name != "Temple ring" {
		t.Fatalf("expected sanitised display name, got %q", got.Display.Name)
	}
	if !engine.IsPending(entry.Key) {
		t.Fatalf("expected key to be pending")
	}

	repo.next(t).release(nil)
	engine.Wait()
	if engine.IsPending(entry.Key) {
		t.Fatalf("expected pending marker to clear on success")
	}
	if engine.Phase(entry.Key) != PhaseConfirmed {
		t.Fatalf("expected confirmed phase, got %s", engine.Phase(entry.Key))
	}
}

func TestSyncEngineLastIntentWinsWhenSupersededFails(t *testing.T) {
	repo := newGatedRepository()
	engine, rec := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	entry := ringEntry("ring-1")

	if err := engine.Add(ctx, entry); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := engine.SetQuantity(ctx, entry.Key, 3); err != nil {
		t.Fatalf("SetQuantity: %v", err)
	}
	calls := repo.nextPair(t)

	calls["update"].release(nil)
	calls["insert"].release(errBackendDown)
	engine.Wait()

	got, ok := engine.Store().Get(entry.Key)
	if !ok || got.Quantity != 3 {
		t.Fatalf("expected last intent (quantity 3) to survive, got %+v present=%v", got, ok)
	}
	if engine.IsPending(entry.Key) {
		t.Fatalf("expected no pending marker")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("expected superseded failure to stay silent, got %+v", rec.all())
	}
}

func TestSyncEngineOutOfOrderAcksKeepLatestIntent(t *testing.T) {
	repo := newGatedRepository()
	engine, _ := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	entry := ringEntry("ring-1")

	_ = engine.Add(ctx, entry)
	_ = engine.Remove(ctx, entry.Key)
	calls := repo.nextPair(t)

	calls["delete"].release(nil)
	calls["insert"].release(nil)
	engine.Wait()

	if _, ok := engine.Store().Get(entry.Key); ok {
		t.Fatalf("expected the later remove to win locally")
	}
	if engine.IsPending(entry.Key) {
		t.Fatalf("expected pending to clear")
	}
}

func TestSyncEngineLiveFailureRollsBackToConfirmedPredecessor(t *testing.T) {
	repo := newGatedRepository()
	engine, rec := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	entry := ringEntry("ring-1")

	_ = engine.Add(ctx, entry)
	_ = engine.SetQuantity(ctx, entry.Key, 4)
	calls := repo.nextPair(t)

	calls["insert"].release(nil)
	waitForChain(t, engine, entry.Key, 1)
	calls["update"].release(errBackendDown)
	engine.Wait()

	got, ok := engine.Store().Get(entry.Key)
	if !ok || got.Quantity != 1 {
		t.Fatalf("expected rollback to the acknowledged add (quantity 1), got %+v present=%v", got, ok)
	}
	notices := rec.all()
	if len(notices) != 1 || notices[0].Kind != NoticeError {
		t.Fatalf("expected one error notice, got %+v", notices)
	}
	var transient *TransientError
	if !errors.As(notices[0].Err, &transient) || !errors.Is(notices[0].Err, errBackendDown) {
		t.Fatalf("expected TransientError wrapping the cause, got %v", notices[0].Err)
	}
}

func TestSyncEngineLiveFailureInheritsRollbackOfFailedPredecessor(t *testing.T) {
	repo := newGatedRepository()
	engine, _ := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	entry := ringEntry("ring-1")

	_ = engine.Add(ctx, entry)
	_ = engine.SetQuantity(ctx, entry.Key, 2)
	calls := repo.nextPair(t)

	calls["insert"].release(errBackendDown)
	calls["update"].release(errBackendDown)
	engine.Wait()

	if _, ok := engine.Store().Get(entry.Key); ok {
		t.Fatalf("expected the store to return to the pre-intent state (absent)")
	}
	if engine.Store().Len() != 0 {
		t.Fatalf("expected empty store, got %d", engine.Store().Len())
	}
}

func TestSyncEngineLiveFailureRestoresOwnPreIntentStateWhilePredecessorInFlight(t *testing.T) {
	repo := newGatedRepository()
	engine, rec := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	entry := ringEntry("ring-1")

	_ = engine.Add(ctx, entry)
	_ = engine.SetQuantity(ctx, entry.Key, 3)
	calls := repo.nextPair(t)

	calls["update"].release(errBackendDown)
	waitForChain(t, engine, entry.Key, 1)

	got, ok := engine.Store().Get(entry.Key)
	if !ok || got.Quantity != 1 {
		t.Fatalf("expected the add's optimistic row (quantity 1) after the update failed, got %+v present=%v", got, ok)
	}
	if !engine.IsPending(entry.Key) {
		t.Fatalf("expected the unresolved add to keep the key pending")
	}
	if pending := engine.Pending(); len(pending) != 1 || pending[0].Kind != domain.IntentAdd {
		t.Fatalf("expected the add to be the live operation, got %+v", pending)
	}

	calls["insert"].release(nil)
	engine.Wait()

	got, ok = engine.Store().Get(entry.Key)
	if !ok || got.Quantity != 1 {
		t.Fatalf("expected the acknowledged add to remain, got %+v present=%v", got, ok)
	}
	if engine.IsPending(entry.Key) {
		t.Fatalf("expected pending to clear once the add resolved")
	}
	if notices := rec.all(); len(notices) != 1 || notices[0].Kind != NoticeError {
		t.Fatalf("expected one error notice for the failed update, got %+v", notices)
	}
}

func TestSyncEngineLiveFailureThenPredecessorFailureReturnsToConfirmedState(t *testing.T) {
	repo := newGatedRepository()
	engine, rec := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	entry := ringEntry("ring-1")

	_ = engine.Add(ctx, entry)
	_ = engine.SetQuantity(ctx, entry.Key, 3)
	calls := repo.nextPair(t)

	calls["update"].release(errBackendDown)
	waitForChain(t, engine, entry.Key, 1)
	calls["insert"].release(errBackendDown)
	engine.Wait()

	if _, ok := engine.Store().Get(entry.Key); ok {
		t.Fatalf("expected the row to disappear once the add failed too")
	}
	if engine.IsPending(entry.Key) {
		t.Fatalf("expected no pending marker")
	}
	if len(rec.all()) != 2 {
		t.Fatalf("expected a notice per rolled back intent, got %+v", rec.all())
	}
}

func TestSyncEngineRejectsIntentRacingIdentityChange(t *testing.T) {
	var calls atomic.Int32
	repo := &stubRepository{insertFn: func(context.Context, repositories.Scope, domain.CollectionEntry) error {
		calls.Add(1)
		return nil
	}}
	sess := signedInSession("uid-1")
	engine, _ := newTestEngine(t, repo, sess)
	entry := ringEntry("ring-1")

	engine.mu.Lock()
	done := make(chan error, 1)
	go func() { done <- engine.Add(context.Background(), entry) }()
	time.Sleep(20 * time.Millisecond)
	sess.SignOut()
	engine.mu.Unlock()

	if err := <-done; !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	engine.Wait()
	if _, ok := engine.Store().Get(entry.Key); ok {
		t.Fatalf("expected no entry for the signed-out identity")
	}
	if engine.IsPending(entry.Key) || calls.Load() != 0 {
		t.Fatalf("expected nothing pending or dispatched, pending=%v calls=%d", engine.IsPending(entry.Key), calls.Load())
	}
}

func TestSyncEngineRemoveFailureRestoresEntry(t *testing.T) {
	existing := ringEntry("ring-1")
	existing.Quantity = 2
	repo := &stubRepository{
		listFn: func(context.Context, repositories.Scope) ([]domain.CollectionEntry, error) {
			return []domain.CollectionEntry{existing}, nil
		},
		deleteFn: func(context.Context, repositories.Scope, domain.EntryKey) error {
			return errBackendDown
		},
	}
	engine, rec := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	if err := engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if err := engine.Remove(ctx, existing.Key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	engine.Wait()

	got, ok := engine.Store().Get(existing.Key)
	if !ok || got.Quantity != 2 {
		t.Fatalf("expected entry restored, got %+v present=%v", got, ok)
	}
	if notices := engine.Notices(); len(notices) != 1 || notices[0].Kind != NoticeError {
		t.Fatalf("expected error notice, got %+v", notices)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("expected OnNotice to fire once")
	}
}

func TestSyncEngineConflictIsInformational(t *testing.T) {
	repo := &stubRepository{
		insertFn: func(_ context.Context, _ repositories.Scope, entry domain.CollectionEntry) error {
			return repositories.ErrConflict("insert", entry.Key)
		},
	}
	engine, rec := newTestEngine(t, repo, signedInSession("uid-1"))
	entry := ringEntry("ring-1")

	if err := engine.Add(context.Background(), entry); err != nil {
		t.Fatalf("Add: %v", err)
	}
	engine.Wait()

	if _, ok := engine.Store().Get(entry.Key); !ok {
		t.Fatalf("expected conflict not to roll back")
	}
	if engine.IsPending(entry.Key) {
		t.Fatalf("expected pending to clear on conflict")
	}
	notices := rec.all()
	if len(notices) != 1 || notices[0].Kind != NoticeConflict {
		t.Fatalf("expected conflict notice, got %+v", notices)
	}
	var conflict *ConflictError
	if !errors.As(notices[0].Err, &conflict) || conflict.Key != entry.Key {
		t.Fatalf("expected ConflictError for %s, got %v", entry.Key, notices[0].Err)
	}
}

func TestSyncEngineDuplicateAddYieldsSingleEntry(t *testing.T) {
	repo := memory.NewCollectionRepository(nil)
	sess := signedInSession("uid-1")
	engine, rec := newTestEngine(t, repo, sess)
	ctx := context.Background()
	entry := ringEntry("ring-1")

	_ = engine.Add(ctx, entry)
	_ = engine.Add(ctx, entry)
	engine.Wait()

	if engine.Store().Len() != 1 {
		t.Fatalf("expected one local entry, got %d", engine.Store().Len())
	}
	remote, err := repo.List(ctx, repositories.Scope{UID: "uid-1", Kind: domain.CollectionCart})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remote) != 1 {
		t.Fatalf("expected one remote entry, got %d", len(remote))
	}
	for _, n := range rec.all() {
		if n.Kind == NoticeError {
			t.Fatalf("expected no rollback, got %+v", n)
		}
	}
}

func TestSyncEngineRemoveNotFoundCountsAsSuccess(t *testing.T) {
	repo := &stubRepository{
		deleteFn: func(_ context.Context, _ repositories.Scope, key domain.EntryKey) error {
			return repositories.ErrNotFound("delete", key)
		},
	}
	engine, rec := newTestEngine(t, repo, signedInSession("uid-1"))
	key := domain.NewEntryKey("ring-9", "24K")

	if err := engine.Remove(context.Background(), key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	engine.Wait()
	if len(rec.all()) != 0 {
		t.Fatalf("expected no notices, got %+v", rec.all())
	}
	if engine.IsPending(key) {
		t.Fatalf("expected pending to clear")
	}
}

func TestSyncEngineRequiresIdentity(t *testing.T) {
	called := false
	repo := &stubRepository{insertFn: func(context.Context, repositories.Scope, domain.CollectionEntry) error {
		called = true
		return nil
	}}
	engine, _ := newTestEngine(t, repo, session.New())

	if err := engine.Add(context.Background(), ringEntry("ring-1")); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := engine.Reconcile(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated from reconcile, got %v", err)
	}
	engine.Wait()
	if called || engine.Store().Len() != 0 {
		t.Fatalf("expected nothing to be applied")
	}
}

func TestSyncEngineRejectsInvalidIntents(t *testing.T) {
	engine, _ := newTestEngine(t, &stubRepository{}, signedInSession("uid-1"))
	ctx := context.Background()

	if err := engine.SetQuantity(ctx, domain.NewEntryKey("missing", "22K"), 2); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected absent key to be rejected, got %v", err)
	}
	if err := engine.SetQuantity(ctx, domain.NewEntryKey("ring-1", "22K"), 0); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected non-positive quantity to be rejected, got %v", err)
	}
	if err := engine.Add(ctx, domain.CollectionEntry{Key: domain.NewEntryKey(" ", "22K")}); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected blank item id to be rejected, got %v", err)
	}
	if len(engine.Pending()) != 0 {
		t.Fatalf("expected no pending operations")
	}
}

func TestSyncEngineDiscardsCompletionsFromPreviousIdentity(t *testing.T) {
	repo := newGatedRepository()
	sess := signedInSession("uid-a")
	engine, rec := newTestEngine(t, repo, sess)
	ctx := context.Background()

	if err := engine.Add(ctx, ringEntry("ring-a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	stale := repo.next(t)

	sess.SignIn(domain.Identity{UID: "uid-b"})
	engine.Reset()
	done := make(chan error, 1)
	go func() { done <- engine.Reconcile(ctx) }()
	repo.next(t).releaseList([]domain.CollectionEntry{ringEntry("ring-b")})
	if err := <-done; err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	stale.release(errBackendDown)
	engine.Wait()

	entries := engine.Store().Entries()
	if len(entries) != 1 || entries[0].Key.ItemID != "ring-b" {
		t.Fatalf("expected only the new identity's entry, got %+v", entries)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("expected stale completion to be silent, got %+v", rec.all())
	}
}

func TestSyncEngineReconcileReplacesWholesaleAndDropsPending(t *testing.T) {
	repo := newGatedRepository()
	engine, _ := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	local := ringEntry("ring-local")

	_ = engine.Add(ctx, local)
	insert := repo.next(t)

	done := make(chan error, 1)
	go func() { done <- engine.Reconcile(ctx) }()
	repo.next(t).releaseList([]domain.CollectionEntry{ringEntry("ring-remote")})
	if err := <-done; err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if engine.IsPending(local.Key) || len(engine.Pending()) != 0 {
		t.Fatalf("expected reconcile to drop pending markers")
	}
	insert.release(nil)
	engine.Wait()

	entries := engine.Store().Entries()
	if len(entries) != 1 || entries[0].Key.ItemID != "ring-remote" {
		t.Fatalf("expected fetched set to win, got %+v", entries)
	}
}

func TestSyncEngineIgnoresOlderReconcile(t *testing.T) {
	repo := newGatedRepository()
	engine, _ := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- engine.Reconcile(ctx) }()
	older := repo.next(t)

	second := make(chan error, 1)
	go func() { second <- engine.Reconcile(ctx) }()
	newer := repo.next(t)

	newer.releaseList([]domain.CollectionEntry{ringEntry("ring-new")})
	if err := <-second; err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	older.releaseList([]domain.CollectionEntry{ringEntry("ring-old")})
	if err := <-first; err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	entries := engine.Store().Entries()
	if len(entries) != 1 || entries[0].Key.ItemID != "ring-new" {
		t.Fatalf("expected newest fetch to win, got %+v", entries)
	}
}

func TestSyncEngineReconcileFailureKeepsStore(t *testing.T) {
	repo := &stubRepository{listFn: func(context.Context, repositories.Scope) ([]domain.CollectionEntry, error) {
		return nil, errBackendDown
	}}
	engine, _ := newTestEngine(t, repo, signedInSession("uid-1"))
	ctx := context.Background()
	_ = engine.Add(ctx, ringEntry("ring-1"))
	engine.Wait()

	if err := engine.Reconcile(ctx); !errors.Is(err, errBackendDown) {
		t.Fatalf("expected reconcile error, got %v", err)
	}
	if engine.Store().Len() != 1 {
		t.Fatalf("expected store to be untouched")
	}
}

func TestSyncEngineClosedRejectsIntents(t *testing.T) {
	engine, _ := newTestEngine(t, &stubRepository{}, signedInSession("uid-1"))
	engine.Close()
	if err := engine.Add(context.Background(), ringEntry("ring-1")); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}

func TestSyncEngineDispatchCarriesIdentityAndOrigin(t *testing.T) {
	type seen struct{ uid, origin, ctxUID string }
	got := make(chan seen, 1)
	repo := &stubRepository{insertFn: func(ctx context.Context, scope repositories.Scope, _ domain.CollectionEntry) error {
		got <- seen{uid: scope.UID, origin: requestctx.Origin(ctx), ctxUID: requestctx.UserID(ctx)}
		return nil
	}}
	engine, _ := newTestEngine(t, repo, signedInSession("uid-7"))
	_ = engine.Add(context.Background(), ringEntry("ring-1"))
	engine.Wait()

	s := <-got
	if s.uid != "uid-7" || s.ctxUID != "uid-7" {
		t.Fatalf("expected scope for uid-7, got %+v", s)
	}
	if s.origin != "session-under-test" {
		t.Fatalf("expected origin to name the session, got %q", s.origin)
	}
}

// waitForChain blocks until key has exactly n unresolved operations.
func waitForChain(t *testing.T, engine *SyncEngine, key domain.EntryKey, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.mu.Lock()
		st, ok := engine.states[key]
		got := 0
		if ok {
			got = len(st.chain)
		}
		engine.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d operations on %s", n, key)
}
