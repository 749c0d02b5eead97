package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

const defaultFeedBuffer = 16

// ErrHubClosed is returned by Subscribe and PublishChange after Close.
var ErrHubClosed = errors.New("memory feed: hub closed")

// FeedHub fans change events out to in-process subscribers. It is both a ChangeFeed and a
// ChangePublisher.
type FeedHub struct {
	mu     sync.Mutex
	subs   map[domain.Channel]map[*subscription]struct{}
	closed bool
	buffer int
}

// NewFeedHub constructs a hub.
func NewFeedHub() *FeedHub {
	return &FeedHub{
		subs:   make(map[domain.Channel]map[*subscription]struct{}),
		buffer: defaultFeedBuffer,
	}
}

// Subscribe opens a subscription on channel.
func (h *FeedHub) Subscribe(ctx context.Context, channel domain.Channel) (repositories.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	sub := &subscription{
		hub:     h,
		channel: channel,
		events:  make(chan domain.ChangeEvent, h.buffer),
	}
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[channel] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// PublishChange delivers event to every subscriber of its channel. Slow subscribers drop
// events once their buffer is full; a queued event already forces a refetch.
func (h *FeedHub) PublishChange(ctx context.Context, event domain.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for sub := range h.subs[event.Channel] {
		select {
		case sub.events <- event:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on channel.
func (h *FeedHub) Subscribers(channel domain.Channel) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

// Close ends every subscription with ErrHubClosed.
func (h *FeedHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			sub.err = ErrHubClosed
			close(sub.events)
		}
	}
	h.subs = nil
}

func (h *FeedHub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.channel]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.channel)
	}
	close(sub.events)
}

type subscription struct {
	hub     *FeedHub
	channel domain.Channel
	events  chan domain.ChangeEvent
	err     error
	once    sync.Once
}

func (s *subscription) Events() <-chan domain.ChangeEvent { return s.events }

func (s *subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.hub.remove(s) })
}

var (
	_ repositories.ChangeFeed      = (*FeedHub)(nil)
	_ repositories.ChangePublisher = (*FeedHub)(nil)
)
