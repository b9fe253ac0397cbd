package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"keystone/config"
	"keystone/internal/delivery"
	"keystone/internal/delivery/api"
	"keystone/internal/delivery/api/middleware"
	"keystone/internal/delivery/api/router/handler"
	"keystone/internal/domain/service"
	"keystone/internal/errors"
	"keystone/internal/infra/auth"
	"keystone/internal/infra/auth/apple"
	"keystone/internal/infra/auth/google"
	"keystone/internal/infra/crypto"
	logs "keystone/internal/infra/log"
	"keystone/internal/infra/metrics"
	"keystone/internal/infra/persistence"
	"keystone/internal/infra/pubsub"
	"keystone/internal/usecase/impl"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectRepo(),
		injectService(),
		injectUsecase(),
		injectDelivery(),
		injectMiddleware(),
		injectHandler(),
		fx.Invoke(
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		context.Background,
		metrics.NewRegistry,
		newProviderHTTPClient,
	)
}

func newProviderHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Identity.HTTPTimeout}
}

func injectRepo() fx.Option {
	return fx.Options(
		fx.Provide(
			persistence.New,
		),
	)
}

func injectService() fx.Option {
	return fx.Options(
		fx.Provide(
			auth.NewJWTService,
			crypto.NewSecretCipher,
			metrics.New,
			newIdentityVerifiers,
		),
		pubsub.Module,
	)
}

// newIdentityVerifiers builds a verifier for every configured provider.
func newIdentityVerifiers(
	cfg *config.Config,
	httpClient *http.Client,
	authMetrics service.AuthMetrics,
	logger *slog.Logger,
) (service.IdentityVerifierRegistry, error) {
	var verifiers []service.IdentityVerifier

	if cfg.Google != nil {
		v, err := google.NewVerifier(cfg.Google, cfg.Identity, httpClient, authMetrics, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Google verifier")
		}
		verifiers = append(verifiers, v)
	}

	if cfg.Apple != nil {
		v, err := apple.NewVerifier(cfg.Apple, cfg.Identity, httpClient, authMetrics, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Apple verifier")
		}
		verifiers = append(verifiers, v)
	}

	return service.NewIdentityVerifierRegistry(verifiers...), nil
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			impl.NewSessionService,
			impl.NewAuthService,
		),
	)
}

func injectMiddleware() fx.Option {
	return fx.Options(
		fx.Provide(
			middleware.NewAuthMiddleware,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewAuthHandler,
			handler.NewSessionHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				api.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))
				os.Exit(1)
			}
		}()
	}
}
