package repositories

import (
	"context"
	"sync"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

// Stream is a Subscription fed by a producer goroutine. The producer calls Send for each event
// and Finish exactly once when it exits.
type Stream struct {
	events chan domain.ChangeEvent
	done   chan struct{}
	cancel context.CancelFunc

	stopOnce   sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStream returns a stream whose Unsubscribe calls cancel.
func NewStream(cancel context.CancelFunc) *Stream {
	if cancel == nil {
		cancel = func() {}
	}
	return &Stream{
		events: make(chan domain.ChangeEvent),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Send hands event to the consumer. It returns false once the stream was unsubscribed.
func (s *Stream) Send(event domain.ChangeEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}

// Finish closes the event channel. err is reported by Err unless the stream was unsubscribed.
func (s *Stream) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		select {
		case <-s.done:
		default:
			s.err = err
		}
		s.mu.Unlock()
		close(s.events)
	})
}

// Stopped is closed by Unsubscribe.
func (s *Stream) Stopped() <-chan struct{} { return s.done }

// Events implements Subscription.
func (s *Stream) Events() <-chan domain.ChangeEvent { return s.events }

// Err implements Subscription.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe implements Subscription.
func (s *Stream) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		s.cancel()
	})
}

var _ Subscription = (*Stream)(nil)
