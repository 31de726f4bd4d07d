// Package repository wires the task registry and the run history store selected by configuration.
package repository

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/promptbatch/pkg/batch/adapter/database/migration"
	storageAdapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	domainRepo "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/repository/filesystem"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/promptbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// NewTaskRepository builds the file system task registry on the "tasks" storage connection.
func NewTaskRepository(cfg *config.Config, storage storageAdapter.StorageProvider) (domainRepo.TaskRepository, error) {
	conn, err := storage.GetConnection(storageAdapter.ConnectionTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve task storage: %w", err)
	}
	return filesystem.NewTaskRepository(conn, cfg.PromptBatch.Task.Identity)
}

// NewRunRepository builds the run history store named by promptbatch.history.type.
// Database-backed stores are migrated first when MigrateOnStart is set.
func NewRunRepository(ctx context.Context, cfg *config.Config, provider database.DBProvider) (domainRepo.RunRepository, error) {
	history := cfg.PromptBatch.History
	switch history.Type {
	case "", config.HistoryMemory:
		logger.Infof("Run history: in-memory.")
		return inmemory.NewInMemoryRunRepository(), nil
	case config.HistorySQLite, config.HistoryMySQL, config.HistoryPostgres:
	default:
		return nil, fmt.Errorf("unsupported history type: %s", history.Type)
	}

	conn, err := provider.GetConnection(database.ConnectionHistory)
	if err != nil {
		return nil, err
	}
	if history.MigrateOnStart {
		if err := migration.MigrateHistory(ctx, conn); err != nil {
			return nil, err
		}
		if conn, err = provider.ForceReconnect(database.ConnectionHistory); err != nil {
			return nil, err
		}
	}
	logger.Infof("Run history: %s.", history.Type)
	return sqlrepo.NewSQLRunRepository(conn), nil
}

type runRepositoryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Provider  database.DBProvider
}

func provideRunRepository(p runRepositoryParams) (domainRepo.RunRepository, error) {
	repo, err := NewRunRepository(context.Background(), p.Config, p.Provider)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}

// Module provides the task registry, the run history store and the database provider behind it.
var Module = fx.Options(
	gormadapter.Module,
	fx.Provide(NewTaskRepository),
	fx.Provide(provideRunRepository),
)
