package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Babacarjopp/senmedicaltech/internal/di"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/config"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/idempotency"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/observability"
)

const (
	shutdownGrace    = 10 * time.Second
	containerClose   = 15 * time.Second
	cleanupRunBudget = time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	logger := base.Named("api")
	if err := run(observability.WithLogger(ctx, logger), logger); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
		_ = base.Sync()
		os.Exit(1)
	}
	_ = base.Sync()
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := newSecretFetcher(ctx, logger.Named("secrets"), env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	build := buildInfoFromEnv(env, cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger.Named("orders")), di.WithBuildInfo(build))
	if err != nil {
		return fmt.Errorf("container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), containerClose)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	router, err := newRouter(ctx, logger, cfg, container, build)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return serve(ctx, logger, server, cfg, container.Idempotency)
}

// serve runs the HTTP server and the idempotency sweeper until ctx is cancelled, then drains
// in-flight requests.
func serve(ctx context.Context, logger *zap.Logger, server *http.Server, cfg config.Config, store idempotency.Store) error {
	g, gctx := errgroup.WithContext(ctx)
	httpLogger := logger.Named("http").With(zap.String("addr", server.Addr))

	g.Go(func() error {
		httpLogger.Info("senmedicaltech api listening",
			zap.String("inventoryBackend", cfg.Inventory.Backend),
			zap.String("notificationTransport", cfg.Notifications.Transport),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runIdempotencyCleanup(gctx, logger.Named("idempotency"), store, cfg.Idempotency)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		httpLogger.Info("draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// runIdempotencyCleanup sweeps expired idempotency records on every tick until ctx ends.
func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	if store == nil || cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, cleanupRunBudget)
			removed, err := store.CleanupExpired(sweepCtx, now.UTC(), cfg.CleanupBatchSize)
			cancel()
			switch {
			case err != nil:
				logger.Error("idempotency cleanup error", zap.Error(err))
			case removed > 0:
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		}
	}
}
