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
)

const (
	defaultCheckoutWindow = 10 * time.Minute
	defaultCheckoutTick   = time.Second
	expiryRefreshTimeout  = 10 * time.Second
)

var errTimerRatesRequired = errors.New("checkout timer: rate refresher is required")

// TimerState is the lifecycle state of a CheckoutTimer.
type TimerState string

const (
	// TimerIdle is a new timer that has not been started.
	TimerIdle TimerState = "idle"
	// TimerRunning counts down once per tick.
	TimerRunning TimerState = "running"
	// TimerExpired is terminal: the countdown reached zero and a rate refresh was requested.
	TimerExpired TimerState = "expired"
	// TimerCancelled is terminal: Cancel ran before expiry and no further ticks are processed.
	TimerCancelled TimerState = "cancelled"
)

// Ticker is the tick source driving a CheckoutTimer.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

// RateRefresher is the part of the RateCache the timer needs.
type RateRefresher interface {
	Refresh(ctx context.Context) (domain.RateSnapshot, error)
}

// CheckoutTimerDeps wires the collaborators of a CheckoutTimer.
type CheckoutTimerDeps struct {
	Rates       RateRefresher
	Window      time.Duration
	Tick        time.Duration
	NewTicker   TickerFactory
	Clock       func() time.Time
	IDGenerator func() string
	OnExpire    func(domain.CheckoutSession)
	Logger      *zap.Logger
}

// CheckoutTimer counts a checkout session down one tick at a time. Reaching zero refreshes the
// rates exactly once and signals Done.
type CheckoutTimer struct {
	rates     RateRefresher
	window    time.Duration
	tick      time.Duration
	newTicker TickerFactory
	now       func() time.Time
	newID     func() string
	onExpire  func(domain.CheckoutSession)
	logger    *zap.Logger

	mu        sync.Mutex
	state     TimerState
	remaining int
	session   domain.CheckoutSession
	ticker    Ticker
	stop      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewCheckoutTimer constructs an idle timer.
func NewCheckoutTimer(deps CheckoutTimerDeps) (*CheckoutTimer, error) {
	if deps.Rates == nil {
		return nil, errTimerRatesRequired
	}
	window := deps.Window
	if window <= 0 {
		window = defaultCheckoutWindow
	}
	tick := deps.Tick
	if tick <= 0 {
		tick = defaultCheckoutTick
	}
	newTicker := deps.NewTicker
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutTimer{
		rates:     deps.Rates,
		window:    window,
		tick:      tick,
		newTicker: newTicker,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		onExpire:  deps.OnExpire,
		logger:    logger,
		state:     TimerIdle,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start moves the timer from Idle to Running.
func (t *CheckoutTimer) Start() (domain.CheckoutSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TimerIdle {
		return domain.CheckoutSession{}, fmt.Errorf("%w: cannot start from %s", ErrTimerState, t.state)
	}
	started := t.now()
	t.session = domain.CheckoutSession{ID: t.newID(), StartedAt: started, Deadline: started.Add(t.window)}
	t.remaining = int((t.window + t.tick - 1) / t.tick)
	t.state = TimerRunning
	t.ticker = t.newTicker(t.tick)
	t.wg.Add(1)
	go t.loop(t.ticker)
	t.logger.Info("checkout.started", zap.String("sessionId", t.session.ID), zap.Int("ticks", t.remaining))
	return t.session, nil
}

func (t *CheckoutTimer) loop(ticker Ticker) {
	defer t.wg.Done()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C():
			if !t.advance() {
				return
			}
		}
	}
}

// advance processes one tick and reports whether the timer is still running.
func (t *CheckoutTimer) advance() bool {
	t.mu.Lock()
	if t.state != TimerRunning {
		t.mu.Unlock()
		return false
	}
	t.remaining--
	if t.remaining > 0 {
		t.mu.Unlock()
		return true
	}
	t.state = TimerExpired
	t.ticker.Stop()
	session := t.session
	t.mu.Unlock()

	t.logger.Info("checkout.expired", zap.String("sessionId", session.ID))
	ctx, cancel := context.WithTimeout(context.Background(), expiryRefreshTimeout)
	if _, err := t.rates.Refresh(ctx); err != nil {
		t.logger.Warn("checkout.expiry_refresh_failed", zap.Error(err))
	}
	cancel()
	close(t.done)
	if t.onExpire != nil {
		t.onExpire(session)
	}
	return false
}

// Cancel tears the timer down. No tick is processed once it returns. Cancelling an expired or
// cancelled timer is a no-op.
func (t *CheckoutTimer) Cancel() {
	t.mu.Lock()
	switch t.state {
	case TimerIdle:
		t.state = TimerCancelled
		t.mu.Unlock()
		return
	case TimerRunning:
	default:
		t.mu.Unlock()
		return
	}
	t.state = TimerCancelled
	t.ticker.Stop()
	close(t.stop)
	sessionID := t.session.ID
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("checkout.cancelled", zap.String("sessionId", sessionID))
}

// State returns the lifecycle state.
func (t *CheckoutTimer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RemainingTicks returns the ticks left before expiry.
func (t *CheckoutTimer) RemainingTicks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Remaining returns the time left before expiry.
func (t *CheckoutTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.remaining) * t.tick
}

// Session returns the checkout session started by Start.
func (t *CheckoutTimer) Session() domain.CheckoutSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Done is closed after expiry, once the rate refresh has been issued.
func (t *CheckoutTimer) Done() <-chan struct{} {
	return t.done
}

// Expired reports whether the countdown reached zero.
func (t *CheckoutTimer) Expired() bool {
	return t.State() == TimerExpired
}
