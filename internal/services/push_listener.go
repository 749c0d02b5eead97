package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
	"github.com/navajothi-jewels/storefront-sync/internal/session"
)

const defaultReconcileTimeout = 15 * time.Second

var (
	errListenerFeedRequired   = errors.New("push listener: change feed is required")
	errListenerTargetRequired = errors.New("push listener: reconciler is required")
)

// Reconciler refetches one collection wholesale.
type Reconciler interface {
	Kind() domain.CollectionKind
	Reconcile(ctx context.Context) error
}

// PushListenerDeps wires the collaborators of a PushListener.
type PushListenerDeps struct {
	Feed             repositories.ChangeFeed
	Target           Reconciler
	Session          *session.Context
	Logger           *zap.Logger
	ReconcileTimeout time.Duration
}

type activeSubscription struct {
	channel domain.Channel
	epoch   uint64
	sub     repositories.Subscription
}

// PushListener keeps at most one change feed subscription for the current identity and
// reconciles its target on every event.
type PushListener struct {
	feed    repositories.ChangeFeed
	target  Reconciler
	session *session.Context
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	active  *activeSubscription
	failed  bool
	stopped bool

	// deliverMu serialises reconciles so Stop can wait out one in progress.
	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

// NewPushListener constructs an idle listener. Call Sync to subscribe.
func NewPushListener(deps PushListenerDeps) (*PushListener, error) {
	if deps.Feed == nil {
		return nil, errListenerFeedRequired
	}
	if deps.Target == nil {
		return nil, errListenerTargetRequired
	}
	if deps.Session == nil {
		return nil, errEngineSessionRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.ReconcileTimeout
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	return &PushListener{
		feed:    deps.Feed,
		target:  deps.Target,
		session: deps.Session,
		logger:  logger.With(zap.String("collection", string(deps.Target.Kind()))),
		timeout: timeout,
	}, nil
}

// Sync aligns the subscription with the current identity. An existing healthy subscription
// for the same identity is kept; otherwise the old one is torn down before the new one is made.
func (l *PushListener) Sync(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil
	}

	current := l.session.Snapshot()
	if l.active != nil && l.active.epoch == current.Epoch && !l.failed {
		return nil
	}
	l.teardownLocked()
	if !current.SignedIn {
		l.failed = false
		return nil
	}

	channel := domain.Channel{Identity: current.Identity.UID, Kind: l.target.Kind()}
	sub, err := l.feed.Subscribe(ctx, channel)
	if err != nil {
		l.failed = true
		l.logger.Warn("push.subscribe_failed", zap.String("channel", channel.String()), zap.Error(err))
		return err
	}
	l.failed = false
	active := &activeSubscription{channel: channel, epoch: current.Epoch, sub: sub}
	l.active = active
	l.wg.Add(1)
	go l.consume(active)
	l.logger.Debug("push.subscribed", zap.String("channel", channel.String()))
	return nil
}

// Focus retries a failed subscription. It is a no-op while the subscription is healthy.
func (l *PushListener) Focus(ctx context.Context) error {
	return l.Sync(ctx)
}

// Stop unsubscribes and waits out any reconcile already in progress. No event delivered after
// Stop returns reaches the target. Stop is idempotent.
func (l *PushListener) Stop() {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	l.stopped = true
	l.teardownLocked()
	l.mu.Unlock()
}

// Wait blocks until every consumer goroutine has exited.
func (l *PushListener) Wait() {
	l.wg.Wait()
}

// Active returns the subscribed channel, if any.
func (l *PushListener) Active() (domain.Channel, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return domain.Channel{}, false
	}
	return l.active.channel, true
}

// Failed reports whether the last subscription attempt or stream failed.
func (l *PushListener) Failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

func (l *PushListener) teardownLocked() {
	if l.active == nil {
		return
	}
	l.active.sub.Unsubscribe()
	l.logger.Debug("push.unsubscribed", zap.String("channel", l.active.channel.String()))
	l.active = nil
}

func (l *PushListener) consume(active *activeSubscription) {
	defer l.wg.Done()
	// own writes reconcile too; the re-read is what confirms them against the store
	for event := range active.sub.Events() {
		if !l.deliver(active, event) {
			return
		}
	}

	err := active.sub.Err()
	l.mu.Lock()
	if l.active == active && err != nil {
		l.failed = true
		l.active = nil
	}
	l.mu.Unlock()
	if err != nil {
		l.logger.Warn("push.stream_failed", zap.String("channel", active.channel.String()), zap.Error(err))
	}
}

func (l *PushListener) deliver(active *activeSubscription, event domain.ChangeEvent) bool {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	live := !l.stopped && l.active == active
	l.mu.Unlock()
	if !live {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.target.Reconcile(ctx); err != nil {
		l.logger.Warn("push.reconcile_failed", zap.String("channel", active.channel.String()), zap.String("event", event.Kind), zap.Error(err))
	}
	return true
}
