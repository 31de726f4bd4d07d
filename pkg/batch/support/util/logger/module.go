package logger

import (
	"context"

	"go.uber.org/fx"
)

// Module routes fx lifecycle events through this package and flushes the
// backend on shutdown.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
	fx.Invoke(func(lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				// stderr sync fails on some terminals; nothing to recover.
				_ = Sync()
				return nil
			},
		})
	}),
)
