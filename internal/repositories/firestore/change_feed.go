package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	pfirestore "github.com/navajothi-jewels/storefront-sync/internal/platform/firestore"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

// ChangeFeed turns Firestore snapshot listeners on a user's collection into change events.
type ChangeFeed struct {
	provider *pfirestore.Provider
	logger   *zap.Logger
}

// NewChangeFeed constructs a Firestore snapshot-listener change feed.
func NewChangeFeed(provider *pfirestore.Provider, logger *zap.Logger) (*ChangeFeed, error) {
	if provider == nil {
		return nil, errors.New("change feed requires firestore provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeFeed{provider: provider, logger: logger}, nil
}

// Subscribe starts a snapshot listener on the channel's collection. The initial snapshot only
// establishes the baseline; every later snapshot with changes produces one event.
func (f *ChangeFeed) Subscribe(ctx context.Context, channel domain.Channel) (repositories.Subscription, error) {
	if f == nil || f.provider == nil {
		return nil, errors.New("change feed not initialised")
	}
	coll, err := scopeCollection(ctx, f.provider, repositories.Scope{UID: channel.Identity, Kind: channel.Kind})
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream := repositories.NewStream(cancel)
	iter := coll.Snapshots(listenCtx)

	go func() {
		defer iter.Stop()
		baseline := true
		for {
			snap, err := iter.Next()
			if err != nil {
				if listenCtx.Err() != nil || status.Code(err) == codes.Canceled {
					stream.Finish(nil)
					return
				}
				f.logger.Warn("change_feed.listen_failed", zap.String("channel", channel.String()), zap.Error(err))
				stream.Finish(pfirestore.WrapError("change_feed.listen", err))
				return
			}
			if baseline {
				baseline = false
				continue
			}
			if len(snap.Changes) == 0 {
				continue
			}
			event := domain.ChangeEvent{
				Channel:    channel,
				Kind:       changeKind(snap.Changes),
				Origin:     changeOrigin(snap.Changes),
				ObservedAt: snap.ReadTime,
			}
			if !stream.Send(event) {
				stream.Finish(nil)
				return
			}
		}
	}()
	return stream, nil
}

func changeKind(changes []firestore.DocumentChange) string {
	kind := changes[0].Kind
	for _, change := range changes[1:] {
		if change.Kind != kind {
			return "mixed"
		}
	}
	switch kind {
	case firestore.DocumentAdded:
		return "added"
	case firestore.DocumentRemoved:
		return "removed"
	default:
		return "modified"
	}
}

// changeOrigin returns the writer session shared by every change, or "" when unknown.
// Removals carry the last writer of the deleted row, not the deleter, so they are never attributed.
func changeOrigin(changes []firestore.DocumentChange) string {
	origin := ""
	for i, change := range changes {
		if change.Kind == firestore.DocumentRemoved || change.Doc == nil {
			return ""
		}
		value, err := change.Doc.DataAt("origin")
		if err != nil {
			return ""
		}
		current, _ := value.(string)
		if current == "" || (i > 0 && current != origin) {
			return ""
		}
		origin = current
	}
	return origin
}

var _ repositories.ChangeFeed = (*ChangeFeed)(nil)
