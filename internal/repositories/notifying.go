package repositories

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
)

// NotifyingRepository announces every successful write on the scope's change channel.
// Publish failures are logged; the write itself already succeeded.
type NotifyingRepository struct {
	CollectionRepository
	publisher ChangePublisher
	logger    *zap.Logger
	clock     func() time.Time
}

// NewNotifyingRepository decorates inner with change publication.
func NewNotifyingRepository(inner CollectionRepository, publisher ChangePublisher, logger *zap.Logger) (*NotifyingRepository, error) {
	if inner == nil {
		return nil, errors.New("notifying repository: inner repository is required")
	}
	if publisher == nil {
		return nil, errors.New("notifying repository: publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyingRepository{
		CollectionRepository: inner,
		publisher:            publisher,
		logger:               logger,
		clock:                func() time.Time { return time.Now().UTC() },
	}, nil
}

// Insert implements CollectionRepository.
func (r *NotifyingRepository) Insert(ctx context.Context, scope Scope, entry domain.CollectionEntry) error {
	if err := r.CollectionRepository.Insert(ctx, scope, entry); err != nil {
		return err
	}
	r.announce(ctx, scope, "added")
	return nil
}

// UpdateQuantity implements CollectionRepository.
func (r *NotifyingRepository) UpdateQuantity(ctx context.Context, scope Scope, key domain.EntryKey, quantity int) error {
	if err := r.CollectionRepository.UpdateQuantity(ctx, scope, key, quantity); err != nil {
		return err
	}
	r.announce(ctx, scope, "modified")
	return nil
}

// Delete implements CollectionRepository.
func (r *NotifyingRepository) Delete(ctx context.Context, scope Scope, key domain.EntryKey) error {
	if err := r.CollectionRepository.Delete(ctx, scope, key); err != nil {
		return err
	}
	r.announce(ctx, scope, "removed")
	return nil
}

func (r *NotifyingRepository) announce(ctx context.Context, scope Scope, kind string) {
	event := domain.ChangeEvent{
		Channel:    scope.Channel(),
		Kind:       kind,
		Origin:     requestctx.Origin(ctx),
		ObservedAt: r.clock(),
	}
	if err := r.publisher.PublishChange(ctx, event); err != nil {
		r.logger.Warn("collections.publish_failed",
			zap.String("channel", event.Channel.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

var _ CollectionRepository = (*NotifyingRepository)(nil)
