package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

const (
	subscriptionAckDeadline = 10 * time.Second
	subscriptionExpiry      = 24 * time.Hour
	cleanupTimeout          = 10 * time.Second
)

// FeedOption customises a ChangeFeed.
type FeedOption func(*ChangeFeed)

// WithFeedLogger sets the logger.
func WithFeedLogger(logger *zap.Logger) FeedOption {
	return func(f *ChangeFeed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// ChangeFeed creates one filtered subscription per channel and deletes it on Unsubscribe.
type ChangeFeed struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
	newID  func() string
}

// NewChangeFeed constructs a feed reading from topic.
func NewChangeFeed(client *pubsub.Client, topic *pubsub.Topic, opts ...FeedOption) (*ChangeFeed, error) {
	if client == nil {
		return nil, errors.New("pubsub change feed: client is required")
	}
	if topic == nil {
		return nil, errors.New("pubsub change feed: topic is required")
	}
	feed := &ChangeFeed{
		client: client,
		topic:  topic,
		logger: zap.NewNop(),
		newID:  func() string { return strings.ToLower(ulid.Make().String()) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(feed)
		}
	}
	return feed, nil
}

// Subscribe creates a subscription filtered to channel and starts receiving on it.
func (f *ChangeFeed) Subscribe(ctx context.Context, channel domain.Channel) (repositories.Subscription, error) {
	if f == nil || f.client == nil {
		return nil, errors.New("pubsub change feed: not initialised")
	}
	if strings.TrimSpace(channel.Identity) == "" || !channel.Kind.Valid() {
		return nil, fmt.Errorf("pubsub change feed: invalid channel %q", channel.String())
	}

	id := fmt.Sprintf("sync-%s-%s", channel.Kind, f.newID())
	sub, err := f.client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{
		Topic:            f.topic,
		Filter:           f.filter(channel),
		AckDeadline:      subscriptionAckDeadline,
		ExpirationPolicy: subscriptionExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription for %s: %w", channel.String(), err)
	}
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	receiveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream := repositories.NewStream(cancel)

	go func() {
		err := sub.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			if !stream.Send(decodeMessage(channel, msg)) {
				cancel()
			}
		})

		cleanupCtx, done := context.WithTimeout(context.Background(), cleanupTimeout)
		defer done()
		if delErr := sub.Delete(cleanupCtx); delErr != nil {
			f.logger.Warn("change_feed.subscription_cleanup_failed", zap.String("subscription", id), zap.Error(delErr))
		}

		if receiveCtx.Err() != nil {
			err = nil
		} else if err == nil {
			err = errors.New("pubsub change feed: receive stopped")
		}
		if err != nil {
			f.logger.Warn("change_feed.receive_failed", zap.String("channel", channel.String()), zap.Error(err))
		}
		stream.Finish(err)
	}()
	return stream, nil
}

// filter selects by channel only. Writes made by this session are delivered too, so a reconcile
// confirms them against the authoritative store.
func (f *ChangeFeed) filter(channel domain.Channel) string {
	return fmt.Sprintf("attributes.%s = %q", attrChannel, channel.String())
}

func decodeMessage(channel domain.Channel, msg *pubsub.Message) domain.ChangeEvent {
	event := domain.ChangeEvent{
		Channel:    channel,
		Kind:       msg.Attributes[attrKind],
		Origin:     msg.Attributes[attrOrigin],
		ObservedAt: msg.PublishTime.UTC(),
	}
	var payload changeMessage
	if err := json.Unmarshal(msg.Data, &payload); err == nil && !payload.ObservedAt.IsZero() {
		event.ObservedAt = payload.ObservedAt
	}
	return event
}

var _ repositories.ChangeFeed = (*ChangeFeed)(nil)
