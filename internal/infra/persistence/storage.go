// Package persistence selects the session store backend.
package persistence

import (
	"log/slog"

	"keystone/config"
	"keystone/internal/domain/repository"
	"keystone/internal/errors"
	"keystone/internal/infra/persistence/memory"
	"keystone/internal/infra/persistence/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Params holds dependencies for the store, injected by Fx.
type Params struct {
	fx.In
	fx.Lifecycle

	Config   *config.Config
	Logger   *slog.Logger
	Registry prometheus.Registerer `optional:"true"`
}

// New opens the backend named by storage.driver.
func New(params Params) (repository.TransactionManager, repository.RepositoryFactory, error) {
	switch params.Config.Storage.Driver {
	case config.StorageDriverMemory:
		params.Logger.Warn("Using in-memory session store, state is lost on restart")
		store := memory.NewStore()

		return store, store, nil

	case config.StorageDriverPostgres:
		db, err := postgres.New(postgres.Params{
			Lifecycle: params.Lifecycle,
			Config:    params.Config,
			Logger:    params.Logger,
			Registry:  params.Registry,
		})
		if err != nil {
			return nil, nil, err
		}

		return postgres.NewTransactionManager(db), postgres.NewRepositoryFactory(db), nil

	default:
		return nil, nil, errors.Errorf("unknown storage driver: %s", params.Config.Storage.Driver)
	}
}
