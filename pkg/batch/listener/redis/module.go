package redis

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

type publisherResult struct {
	fx.Out
	Listener port.EventListener `group:"eventListeners"`
}

// providePublisher contributes the Redis publisher to the event listeners when enabled.
// A disabled publisher contributes a no-op listener.
func providePublisher(lc fx.Lifecycle, cfg *config.Config) (publisherResult, error) {
	rc := cfg.PromptBatch.Events.Redis
	if !rc.Enabled {
		return publisherResult{Listener: port.EventListenerFunc(func(context.Context, model.Event) {})}, nil
	}
	client, err := NewClient(rc)
	if err != nil {
		return publisherResult{}, err
	}
	pub := NewEventPublisher(client, rc.Channel)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})
	logger.Infof("Events: publishing to redis channel %s at %s.", rc.Channel, rc.Address)
	return publisherResult{Listener: pub}, nil
}

// Module registers the Redis event publisher.
var Module = fx.Provide(providePublisher)
