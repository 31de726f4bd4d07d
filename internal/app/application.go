// Package app assembles the promptbatch application graph and its commands.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/provider"
	"github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/promptbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/export"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/repository"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/sse"
	batchlistener "github.com/tigerroll/promptbatch/pkg/batch/listener"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const stopTimeout = 30 * time.Second

// loadConfig loads the configuration, publishes it globally and applies the logging settings.
// A non-empty logLevel overrides the configured level.
func loadConfig(envFilePath string, embedded config.EmbeddedConfig, logLevel string) (*config.Config, error) {
	cfg, err := config.NewConfigProvider(config.ConfigParams{
		EmbeddedConfig: embedded,
		EnvFilePath:    envFilePath,
	})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.PromptBatch.System.Logging.Level = logLevel
		logger.SetLogLevel(logLevel)
	}
	return cfg, nil
}

// coreOptions is the graph shared by every command: configuration, storage,
// repositories, providers, observers and the task operator.
func coreOptions(cfg *config.Config, extra ...fx.Option) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		logger.Module,
		config.Module,
		local.Module,
		repository.Module,
		progress.Module,
		provider.Module,
		export.Module,
		metrics.Module,
		sse.Module,
		batchlistener.Module,
		usecase.Module,
		fx.Options(extra...),
		fx.StopTimeout(stopTimeout),
	)
}

// startApp builds and starts the graph. The returned stop function must be called.
func startApp(ctx context.Context, opts fx.Option) (*fx.App, func() error, error) {
	app := fx.New(opts)
	if err := app.Err(); err != nil {
		return nil, nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, nil, err
	}
	stop := func() error {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return app.Stop(stopCtx)
	}
	return app, stop, nil
}
