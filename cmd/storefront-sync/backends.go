package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/config"
	pfirestore "github.com/navajothi-jewels/storefront-sync/internal/platform/firestore"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/ratesapi"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
	firestoreRepo "github.com/navajothi-jewels/storefront-sync/internal/repositories/firestore"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories/memory"
	pubsubRepo "github.com/navajothi-jewels/storefront-sync/internal/repositories/pubsub"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories/sqlite"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

// backends bundles the authoritative store, the change feed and the rate source selected by config.
type backends struct {
	Repository repositories.CollectionRepository
	Feed       repositories.ChangeFeed
	Rates      repositories.RateSource
	Ping       func(ctx context.Context) error

	closers []func() error
}

func (b *backends) Close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("backend close error", zap.Error(err))
		}
	}
}

func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.Close(logger)
		return nil, err
	}

	var provider *pfirestore.Provider
	firestoreProvider := func() *pfirestore.Provider {
		if provider == nil {
			var opts []pfirestore.ProviderOption
			if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
				opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
			}
			provider = pfirestore.NewProvider(cfg.Firestore, opts...)
			b.closers = append(b.closers, provider.Close)
		}
		return provider
	}

	var inner repositories.CollectionRepository
	switch cfg.Backend.Store {
	case "firestore":
		repo, err := firestoreRepo.NewCollectionRepository(firestoreProvider(), logger.Named("firestore"))
		if err != nil {
			return fail(err)
		}
		inner = repo
		b.Ping = func(ctx context.Context) error {
			_, err := firestoreProvider().Client(ctx)
			return err
		}
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path, sqlite.WithLogger(logger.Named("sqlite")))
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, store.Close)
		inner = store
		b.Ping = listProbe(store)
	default:
		repo := memory.NewCollectionRepository(nil)
		inner = repo
		b.Ping = listProbe(repo)
	}

	var publisher repositories.ChangePublisher
	switch cfg.Backend.ChangeFeed {
	case "pubsub":
		feed, pub, err := openPubSub(ctx, cfg.PubSub, logger)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, feed.close)
		b.Feed = feed.ChangeFeed
		publisher = pub
	case "firestore":
		if cfg.Backend.Store != "firestore" {
			logger.Warn("firestore change feed only observes the firestore store; peer updates will not arrive",
				zap.String("store", cfg.Backend.Store))
		}
		feed, err := firestoreRepo.NewChangeFeed(firestoreProvider(), logger.Named("change_feed"))
		if err != nil {
			return fail(err)
		}
		b.Feed = feed
	default:
		hub := memory.NewFeedHub()
		b.closers = append(b.closers, func() error {
			hub.Close()
			return nil
		})
		b.Feed = hub
		publisher = hub
	}

	b.Repository = inner
	if publisher != nil {
		notifying, err := repositories.NewNotifyingRepository(inner, publisher, logger.Named("notify"))
		if err != nil {
			return fail(err)
		}
		b.Repository = notifying
	}

	switch cfg.Rates.Source {
	case "http":
		b.Rates = ratesapi.NewClient(cfg.Rates.APIURL, cfg.Rates.APIToken, cfg.Rates.Timeout)
	case "firestore":
		source, err := firestoreRepo.NewRateSource(firestoreProvider())
		if err != nil {
			return fail(err)
		}
		b.Rates = source
	default:
		b.Rates = memory.NewStaticRateSource(domain.RateSnapshot{
			Rate22K:  cfg.Rates.Default22K,
			Rate24K:  cfg.Rates.Default24K,
			Currency: cfg.Rates.Currency,
		}, nil)
	}
	return b, nil
}

func listProbe(repo repositories.CollectionRepository) func(ctx context.Context) error {
	scope := repositories.Scope{UID: "readiness-probe", Kind: domain.CollectionCart}
	return func(ctx context.Context) error {
		_, err := repo.List(ctx, scope)
		return err
	}
}

type pubsubFeed struct {
	*pubsubRepo.ChangeFeed
	client *pubsub.Client
	topic  *pubsub.Topic
}

func (f *pubsubFeed) close() error {
	f.topic.Stop()
	return f.client.Close()
}

func openPubSub(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (*pubsubFeed, *pubsubRepo.Publisher, error) {
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" && os.Getenv(envPubSubEmulatorHost) == "" {
		_ = os.Setenv(envPubSubEmulatorHost, host)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	topic, err := pubsubRepo.EnsureTopic(ctx, client, cfg.Topic)
	if err != nil {
		return nil, nil, errors.Join(err, client.Close())
	}
	feed, err := pubsubRepo.NewChangeFeed(client, topic,
		pubsubRepo.WithFeedLogger(logger.Named("pubsub")),
	)
	if err != nil {
		topic.Stop()
		return nil, nil, errors.Join(err, client.Close())
	}
	publisher, err := pubsubRepo.NewPublisher(topic)
	if err != nil {
		topic.Stop()
		return nil, nil, errors.Join(err, client.Close())
	}
	return &pubsubFeed{ChangeFeed: feed, client: client, topic: topic}, publisher, nil
}
