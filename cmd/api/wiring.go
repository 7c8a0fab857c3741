package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Babacarjopp/senmedicaltech/internal/di"
	"github.com/Babacarjopp/senmedicaltech/internal/handlers"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/auth"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/config"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/idempotency"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/observability"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

const localEnvironment = "local"

// newRouter assembles the order, admin, internal and health handlers behind the shared
// middleware chain.
func newRouter(ctx context.Context, logger *zap.Logger, cfg config.Config, container *di.Container, build services.BuildInfo) (http.Handler, error) {
	authLogger := logger.Named("auth")
	authenticator, err := buildAuthenticator(ctx, authLogger, cfg)
	if err != nil {
		return nil, err
	}

	checkoutGuard := idempotency.Middleware(container.Idempotency,
		idempotency.WithOptionalKey(),
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotency.Logger(observability.NewEventLogger(logger.Named("idempotency")))),
	)
	orders := handlers.NewOrderHandlers(authenticator, container.Services.Orders, handlers.WithCheckoutIdempotency(checkoutGuard))
	admin := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	internal := handlers.NewInternalOrderHandlers(container.Services.Orders)
	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(container.Services.System),
	)

	httpLogger := logger.Named("http")
	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(projectID),
			handlers.LocaleMiddleware(cfg.Notifications.DefaultLocale),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithAdminRoutes(admin.Routes),
		handlers.WithInternalRoutes(internal.Routes),
	}
	if guard := buildOIDCMiddleware(authLogger, cfg); guard != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(guard))
	}
	return handlers.NewRouter(opts...), nil
}

// buildAuthenticator verifies Firebase ID tokens. Outside local environments a verifier that
// cannot start is fatal; locally the authenticated routes reject every request instead.
func buildAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) (*auth.Authenticator, error) {
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		if cfg.Security.Environment != localEnvironment {
			return nil, fmt.Errorf("firebase verifier: %w", err)
		}
		logger.Warn("firebase verifier unavailable; authenticated routes will reject requests", zap.Error(err))
		return auth.NewAuthenticator(nil), nil
	}
	return auth.NewAuthenticator(verifier, auth.WithAuthLogger(auth.Logger(observability.NewEventLogger(logger)))), nil
}

// buildOIDCMiddleware guards /internal with Google-signed OIDC tokens. It returns nil when no
// JWKS endpoint is configured.
func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	events := auth.Logger(observability.NewEventLogger(logger))
	validator := auth.NewOIDCValidator(
		auth.NewJWKSCache(oidc.JWKSURL, auth.WithJWKSLogger(events)),
		auth.WithOIDCLogger(events),
		auth.WithOIDCAllowedCallers(oidc.Callers...),
	)

	audience := strings.TrimSpace(oidc.Audience)
	var problems []error
	if audience == "" {
		problems = append(problems, errors.New("audience not configured"))
	}
	if len(oidc.Issuers) == 0 {
		problems = append(problems, errors.New("issuers not configured"))
	}
	if err := errors.Join(problems...); err != nil {
		logger.Warn("oidc incomplete; internal routes will reject requests", zap.Error(err))
	}
	return validator.RequireOIDC(audience, oidc.Issuers)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     valueOr(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   valueOr(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: valueOr(cfg.Security.Environment, localEnvironment),
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	return valueOr(cfg.Firebase.ProjectID, strings.TrimSpace(cfg.Firestore.ProjectID))
}

func valueOr(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
