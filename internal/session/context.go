// Package session holds the signed-in identity shared by every sync component.
package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

// State is a point-in-time view of the identity context.
type State struct {
	Identity domain.Identity
	SignedIn bool
	// Epoch increments on every identity change. Work started under an older epoch is stale.
	Epoch uint64
}

// Listener is notified after each identity change, in registration order. Listeners must not
// call SignIn or SignOut synchronously.
type Listener func(previous, current State)

// Option customises a Context.
type Option func(*Context)

// WithLogger sets the logger used for identity transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(c *Context) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.id = trimmed
		}
	}
}

// Context is the explicit identity holder passed to the engine, listener and coordinator.
type Context struct {
	id     string
	logger *zap.Logger

	mu        sync.RWMutex
	state     State
	listeners map[uint64]Listener
	nextID    uint64

	// notifyMu keeps listener callbacks in transition order.
	notifyMu sync.Mutex
}

// New constructs a signed-out context.
func New(opts ...Option) *Context {
	c := &Context{
		id:        ulid.Make().String(),
		logger:    zap.NewNop(),
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ID identifies this client session. Change feeds use it to skip the session's own writes.
func (c *Context) ID() string {
	return c.id
}

// Current returns the signed-in identity, if any.
func (c *Context) Current() (domain.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Identity, c.state.SignedIn
}

// Snapshot returns the identity together with its epoch.
func (c *Context) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Epoch returns the current identity generation.
func (c *Context) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Epoch
}

// IsCurrent reports whether epoch still names the active identity.
func (c *Context) IsCurrent(epoch uint64) bool {
	return c.Epoch() == epoch
}

// SignIn makes identity current. Signing in again as the same uid refreshes the profile
// without starting a new epoch.
func (c *Context) SignIn(identity domain.Identity) State {
	identity.UID = strings.TrimSpace(identity.UID)
	identity.Email = strings.TrimSpace(identity.Email)
	if identity.UID == "" {
		return c.SignOut()
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	previous := c.state
	if previous.SignedIn && previous.Identity.UID == identity.UID {
		c.state.Identity = identity
		current := c.state
		c.mu.Unlock()
		return current
	}
	c.state = State{Identity: identity, SignedIn: true, Epoch: previous.Epoch + 1}
	current := c.state
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	c.logger.Info("session.signed_in", zap.String("uid", identity.UID), zap.Uint64("epoch", current.Epoch))
	notify(listeners, previous, current)
	return current
}

// SignOut clears the identity. Signing out while signed out is a no-op.
func (c *Context) SignOut() State {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	previous := c.state
	if !previous.SignedIn {
		c.mu.Unlock()
		return previous
	}
	c.state = State{Epoch: previous.Epoch + 1}
	current := c.state
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	c.logger.Info("session.signed_out", zap.String("uid", previous.Identity.UID), zap.Uint64("epoch", current.Epoch))
	notify(listeners, previous, current)
	return current
}

// OnChange registers fn for identity changes and returns a function removing it.
func (c *Context) OnChange(fn Listener) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Context) snapshotListenersLocked() []Listener {
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.listeners[id])
	}
	return out
}

func notify(listeners []Listener, previous, current State) {
	for _, fn := range listeners {
		fn(previous, current)
	}
}
