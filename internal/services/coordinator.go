package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/observability"
	"github.com/navajothi-jewels/storefront-sync/internal/pricing"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
	"github.com/navajothi-jewels/storefront-sync/internal/session"
)

const identityReconcileTimeout = 15 * time.Second

var (
	errCoordinatorRatesRequired = errors.New("coordinator: rate cache is required")
	errUnknownCollection        = errors.New("coordinator: unknown collection")
)

// CheckoutConfig tunes the checkout timers started by the coordinator.
type CheckoutConfig struct {
	Window    time.Duration
	Tick      time.Duration
	NewTicker TickerFactory
	OnExpire  func(domain.CheckoutSession)
}

// CoordinatorDeps wires the collaborators of a Coordinator. Feed is optional; without it no
// push invalidation happens.
type CoordinatorDeps struct {
	Session         *session.Context
	Repository      repositories.CollectionRepository
	Feed            repositories.ChangeFeed
	Rates           *RateCache
	Logger          *zap.Logger
	Metrics         *observability.SyncMetrics
	Clock           func() time.Time
	IDGenerator     func() string
	OnNotice        func(Notice)
	Checkout        CheckoutConfig
	DispatchTimeout time.Duration
}

// LineView is one priced entry of a CollectionView. PriceErr is set when the entry's tier has no
// rate; such lines are excluded from the total.
type LineView struct {
	Entry     domain.CollectionEntry
	UnitPrice float64
	Amount    float64
	PriceErr  error
	Phase     KeyPhase
}

// CollectionView is the read model handed to the UI layer.
type CollectionView struct {
	Kind       domain.CollectionKind
	Lines      []LineView
	Total      float64
	Currency   string
	Pending    []domain.PendingOperation
	Rates      domain.RateSnapshot
	RateStatus RateStatus
	Notices    []Notice
	Version    uint64
}

// CheckoutStatus describes the checkout countdown.
type CheckoutStatus struct {
	Active    bool
	Session   domain.CheckoutSession
	State     TimerState
	Remaining time.Duration
	Expired   bool
}

// Coordinator owns one engine and push listener per collection and keeps them aligned with the
// session identity.
type Coordinator struct {
	session  *session.Context
	rates    *RateCache
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	checkout CheckoutConfig

	engines   map[domain.CollectionKind]*SyncEngine
	listeners map[domain.CollectionKind]*PushListener
	unhook    func()

	mu     sync.Mutex
	timer  *CheckoutTimer
	closed bool
}

// NewCoordinator builds the engines and listeners and subscribes to identity changes. If the
// session is already signed in the collections are reconciled before it returns.
func NewCoordinator(ctx context.Context, deps CoordinatorDeps) (*Coordinator, error) {
	if deps.Repository == nil {
		return nil, errEngineRepositoryRequired
	}
	if deps.Session == nil {
		return nil, errEngineSessionRequired
	}
	if deps.Rates == nil {
		return nil, errCoordinatorRatesRequired
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

	c := &Coordinator{
		session:   deps.Session,
		rates:     deps.Rates,
		logger:    logger,
		now:       clock,
		newID:     idGen,
		checkout:  deps.Checkout,
		engines:   make(map[domain.CollectionKind]*SyncEngine),
		listeners: make(map[domain.CollectionKind]*PushListener),
	}
	for _, kind := range domain.CollectionKinds() {
		engine, err := NewSyncEngine(SyncEngineDeps{
			Kind:            kind,
			Repository:      deps.Repository,
			Session:         deps.Session,
			Logger:          logger,
			Metrics:         deps.Metrics,
			Clock:           clock,
			IDGenerator:     idGen,
			OnNotice:        deps.OnNotice,
			DispatchTimeout: deps.DispatchTimeout,
		})
		if err != nil {
			c.closeEngines()
			return nil, fmt.Errorf("coordinator: %s engine: %w", kind, err)
		}
		c.engines[kind] = engine
		if deps.Feed == nil {
			continue
		}
		listener, err := NewPushListener(PushListenerDeps{
			Feed:    deps.Feed,
			Target:  engine,
			Session: deps.Session,
			Logger:  logger,
		})
		if err != nil {
			c.closeEngines()
			return nil, fmt.Errorf("coordinator: %s listener: %w", kind, err)
		}
		c.listeners[kind] = listener
	}

	c.unhook = deps.Session.OnChange(func(previous, current session.State) {
		c.identityChanged(previous, current)
	})
	if current := deps.Session.Snapshot(); current.SignedIn {
		c.align(ctx, current)
	}
	return c, nil
}

func (c *Coordinator) identityChanged(previous, current session.State) {
	c.logger.Info("coordinator.identity_changed",
		zap.String("from", observability.SanitizeUserID(previous.Identity.UID)),
		zap.String("to", observability.SanitizeUserID(current.Identity.UID)),
		zap.Uint64("epoch", current.Epoch),
	)
	c.CancelCheckout()
	for _, engine := range c.engines {
		engine.Reset()
	}
	ctx, cancel := context.WithTimeout(context.Background(), identityReconcileTimeout)
	defer cancel()
	c.align(ctx, current)
}

// align resubscribes every listener and, when signed in, reconciles every collection.
func (c *Coordinator) align(ctx context.Context, current session.State) {
	for _, kind := range domain.CollectionKinds() {
		if listener, ok := c.listeners[kind]; ok {
			_ = listener.Sync(ctx)
		}
		if !current.SignedIn {
			continue
		}
		if err := c.engines[kind].Reconcile(ctx); err != nil {
			c.logger.Warn("coordinator.initial_reconcile_failed", zap.String("collection", string(kind)), zap.Error(err))
		}
	}
}

// Session returns the identity context the coordinator follows.
func (c *Coordinator) Session() *session.Context { return c.session }

// Rates returns the shared rate cache.
func (c *Coordinator) Rates() *RateCache { return c.rates }

// Engine returns the sync engine for kind.
func (c *Coordinator) Engine(kind domain.CollectionKind) (*SyncEngine, error) {
	engine, ok := c.engines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownCollection, kind)
	}
	return engine, nil
}

// Listener returns the push listener for kind, if a change feed is configured.
func (c *Coordinator) Listener(kind domain.CollectionKind) (*PushListener, bool) {
	listener, ok := c.listeners[kind]
	return listener, ok
}

// View prices the collection against the current rate snapshot.
func (c *Coordinator) View(kind domain.CollectionKind) (CollectionView, error) {
	engine, err := c.Engine(kind)
	if err != nil {
		return CollectionView{}, err
	}
	snapshot := c.rates.Read()
	store := engine.Store()
	version := store.Version()
	entries := store.Entries()

	view := CollectionView{
		Kind:       kind,
		Currency:   snapshot.Currency,
		Pending:    engine.Pending(),
		Rates:      snapshot,
		RateStatus: c.rates.Status(),
		Notices:    engine.Notices(),
		Version:    version,
		Lines:      make([]LineView, 0, len(entries)),
	}
	priced := make([]domain.CollectionEntry, 0, len(entries))
	index := make(map[domain.EntryKey]int, len(entries))
	for _, entry := range entries {
		line := LineView{Entry: entry, Phase: engine.Phase(entry.Key)}
		if _, err := pricing.Price(entry, snapshot); err != nil {
			line.PriceErr = err
		} else {
			index[entry.Key] = len(view.Lines)
			priced = append(priced, entry)
		}
		view.Lines = append(view.Lines, line)
	}
	summary, err := pricing.Breakdown(priced, snapshot)
	if err != nil {
		return CollectionView{}, err
	}
	for _, line := range summary.Lines {
		i := index[line.Key]
		view.Lines[i].UnitPrice = line.UnitPrice
		view.Lines[i].Amount = line.Amount
	}
	view.Total = summary.Total
	return view, nil
}

// MoveToCart adds the wishlist entry to the cart and then removes it from the wishlist. The two
// intents resolve independently.
func (c *Coordinator) MoveToCart(ctx context.Context, key domain.EntryKey) error {
	wishlist := c.engines[domain.CollectionWishlist]
	cart := c.engines[domain.CollectionCart]
	entry, ok := wishlist.Store().Get(key)
	if !ok {
		return fmt.Errorf("%w: %s is not in the wishlist", ErrInvalidIntent, key)
	}
	entry.AddedAt = time.Time{}
	if err := cart.Add(ctx, entry); err != nil {
		return err
	}
	return wishlist.Remove(ctx, key)
}

// RefreshRates fetches a new rate snapshot.
func (c *Coordinator) RefreshRates(ctx context.Context) (domain.RateSnapshot, error) {
	return c.rates.Refresh(ctx)
}

// Focus retries failed subscriptions.
func (c *Coordinator) Focus(ctx context.Context) error {
	var errs []error
	for _, kind := range domain.CollectionKinds() {
		listener, ok := c.listeners[kind]
		if !ok {
			continue
		}
		if err := listener.Focus(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// StartCheckout starts a countdown for the signed-in identity. Only one countdown may run at a time.
func (c *Coordinator) StartCheckout() (domain.CheckoutSession, error) {
	if !c.session.Snapshot().SignedIn {
		return domain.CheckoutSession{}, ErrNotAuthenticated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.CheckoutSession{}, ErrEngineClosed
	}
	if c.timer != nil && c.timer.State() == TimerRunning {
		return domain.CheckoutSession{}, fmt.Errorf("%w: checkout already running", ErrTimerState)
	}
	timer, err := NewCheckoutTimer(CheckoutTimerDeps{
		Rates:       c.rates,
		Window:      c.checkout.Window,
		Tick:        c.checkout.Tick,
		NewTicker:   c.checkout.NewTicker,
		Clock:       c.now,
		IDGenerator: c.newID,
		OnExpire:    c.checkout.OnExpire,
		Logger:      c.logger,
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	session, err := timer.Start()
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	c.timer = timer
	return session, nil
}

// CheckoutStatus reports the latest countdown.
func (c *Coordinator) CheckoutStatus() CheckoutStatus {
	c.mu.Lock()
	timer := c.timer
	c.mu.Unlock()
	if timer == nil {
		return CheckoutStatus{State: TimerIdle}
	}
	state := timer.State()
	return CheckoutStatus{
		Active:    state == TimerRunning,
		Session:   timer.Session(),
		State:     state,
		Remaining: timer.Remaining(),
		Expired:   state == TimerExpired,
	}
}

// CancelCheckout tears down a running countdown.
func (c *Coordinator) CancelCheckout() {
	c.mu.Lock()
	timer := c.timer
	c.mu.Unlock()
	if timer != nil {
		timer.Cancel()
	}
}

// Close stops listeners, cancels checkout and waits for in-flight mutations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.unhook != nil {
		c.unhook()
	}
	c.CancelCheckout()
	for _, listener := range c.listeners {
		listener.Stop()
		listener.Wait()
	}
	c.closeEngines()
}

func (c *Coordinator) closeEngines() {
	for _, engine := range c.engines {
		engine.Close()
	}
}
