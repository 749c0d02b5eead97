// Package pubsub carries collection change notifications over Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

const (
	attrChannel = "channel"
	attrKind    = "kind"
	attrOrigin  = "origin"
)

type changeMessage struct {
	Identity   string    `json:"identity"`
	Collection string    `json:"collection"`
	Kind       string    `json:"kind,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// Publisher publishes change notifications to a Pub/Sub topic.
type Publisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPublisher constructs a Pub/Sub backed change publisher.
func NewPublisher(topic *pubsub.Topic) (*Publisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub change publisher: topic is required")
	}
	return &Publisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishChange implements repositories.ChangePublisher. The channel and origin travel as
// attributes so subscriptions can filter server side.
func (p *Publisher) PublishChange(ctx context.Context, event domain.ChangeEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub change publisher: not initialised")
	}

	data, err := p.marshal(changeMessage{
		Identity:   event.Channel.Identity,
		Collection: string(event.Channel.Kind),
		Kind:       event.Kind,
		ObservedAt: event.ObservedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	origin := event.Origin
	if origin == "" {
		origin = requestctx.Origin(ctx)
	}
	attrs := map[string]string{attrChannel: event.Channel.String()}
	setAttr(attrs, attrKind, event.Kind)
	setAttr(attrs, attrOrigin, origin)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// EnsureTopic returns the named topic, creating it when it does not exist yet.
func EnsureTopic(ctx context.Context, client *pubsub.Client, name string) (*pubsub.Topic, error) {
	if client == nil {
		return nil, errors.New("pubsub: client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("pubsub: topic name is required")
	}
	topic := client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", name, err)
	}
	if exists {
		return topic, nil
	}
	created, err := client.CreateTopic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create topic %s: %w", name, err)
	}
	return created, nil
}

var _ repositories.ChangePublisher = (*Publisher)(nil)
