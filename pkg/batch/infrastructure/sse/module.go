package sse

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
)

type brokerResult struct {
	fx.Out
	Broker   *EventBroker
	Listener port.EventListener `group:"eventListeners"`
}

// provideBroker builds the broker from promptbatch.server.sse, ties it to the
// application lifecycle and registers it as an event listener.
func provideBroker(lc fx.Lifecycle, cfg *config.Config) brokerResult {
	b := NewBroker(WithConfig(cfg.PromptBatch.Server.SSE))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return b.Stop()
		},
	})
	return brokerResult{Broker: b, Listener: NewEventListener(b)}
}

// Module provides the *EventBroker.
var Module = fx.Provide(provideBroker)
