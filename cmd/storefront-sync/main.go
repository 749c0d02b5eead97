package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/handlers"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/auth"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/config"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/idempotency"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/observability"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/secrets"
	"github.com/navajothi-jewels/storefront-sync/internal/services"
	"github.com/navajothi-jewels/storefront-sync/internal/session"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("sync")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics := observability.NewSyncMetrics(nil, logger.Named("metrics"))
	sess := session.New(session.WithLogger(logger.Named("session")))
	logger = logger.With(zap.String("session_id", sess.ID()))

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}

	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise backends", zap.Error(err))
	}
	defer backends.Close(logger)

	rates, err := services.NewRateCache(services.RateCacheDeps{
		Source: backends.Rates,
		Default: domain.RateSnapshot{
			Rate22K:  cfg.Rates.Default22K,
			Rate24K:  cfg.Rates.Default24K,
			Currency: cfg.Rates.Currency,
		},
		Logger:  logger.Named("rates"),
		Metrics: metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise rate cache", zap.Error(err))
	}

	coord, err := services.NewCoordinator(ctx, services.CoordinatorDeps{
		Session:    sess,
		Repository: backends.Repository,
		Feed:       backends.Feed,
		Rates:      rates,
		Logger:     logger.Named("coordinator"),
		Metrics:    metrics,
		Checkout: services.CheckoutConfig{
			Window: cfg.Checkout.Window,
			Tick:   cfg.Checkout.Tick,
			OnExpire: func(checkout domain.CheckoutSession) {
				logger.Info("checkout window elapsed", zap.String("checkout_id", checkout.ID))
			},
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise coordinator", zap.Error(err))
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())
	var pollWG sync.WaitGroup
	pollWG.Add(1)
	go func() {
		defer pollWG.Done()
		rates.Run(pollCtx, cfg.Rates.PollInterval)
	}()

	health := handlers.NewHealthHandlers(
		handlers.WithHealthVersion(buildVersion(envValues)),
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithReadinessCheck("store", backends.Ping),
		handlers.WithReadinessCheck("rates", func(context.Context) error {
			if status := rates.Status(); status.Warning {
				return errors.New("no rate snapshot fetched yet")
			}
			return nil
		}),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(func() string {
				return sess.Snapshot().Identity.UID
			}),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithIntentMiddlewares(idempotency.Middleware(idempotency.NewMemoryStore(),
			idempotency.WithRequester(func(*http.Request) string {
				return sess.Snapshot().Identity.UID
			}),
		)),
		handlers.WithHealthHandlers(health),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(verifier, sess).Routes),
		handlers.WithCollectionRoutes(handlers.NewCollectionHandlers(coord, cfg.Rates.Locale).Routes),
		handlers.WithRateRoutes(handlers.NewRateHandlers(rates, cfg.Rates.Locale).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(coord).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront sync bridge listening",
			zap.String("store", cfg.Backend.Store),
			zap.String("feed", cfg.Backend.ChangeFeed),
			zap.String("rates", cfg.Rates.Source),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	pollCancel()
	pollWG.Wait()
	coord.Close()
}

func newVerifier(ctx context.Context, cfg config.Config) (auth.Verifier, error) {
	switch cfg.Auth.Mode {
	case "firebase":
		return auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	default:
		return auth.NewLocalVerifier(cfg.Auth.LocalSecret, cfg.Auth.LocalIssuer, nil)
	}
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["SYNC_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("SYNC_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("SYNC_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("SYNC_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithProject(project),
	}
	if credentialsFile := lookup("SYNC_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected backends cannot run without.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	mode := strings.ToLower(strings.TrimSpace(env["SYNC_AUTH_MODE"]))
	if mode == "" || mode == "local" {
		required = append(required, "Auth.LocalSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["SYNC_RATES_SOURCE"]), "http") && strings.TrimSpace(env["SYNC_RATES_API_TOKEN"]) != "" {
		required = append(required, "Rates.APIToken")
	}
	return required
}
