package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/database"
)

// Module provides the gorm DBProvider and closes its connections on shutdown.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.As(new(database.DBProvider)),
	)),
	fx.Invoke(func(lc fx.Lifecycle, p database.DBProvider) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return p.CloseAll()
			},
		})
	}),
)
