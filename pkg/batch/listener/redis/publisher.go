// Package redis publishes orchestrator events to a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// publishTimeout bounds one PUBLISH so a slow server cannot stall the orchestrator.
const publishTimeout = 2 * time.Second

// connectionTimeout is the timeout for verifying the Redis connection.
const connectionTimeout = 5 * time.Second

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// NewClient creates a Redis client and verifies the connection.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// EventPublisher is an EventListener that publishes every event as JSON.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

// NewEventPublisher creates a publisher on channel.
func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	return &EventPublisher{client: client, channel: channel}
}

// Publish sends event to the channel.
func (p *EventPublisher) Publish(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// OnEvent implements port.EventListener. Failures are logged and dropped.
func (p *EventPublisher) OnEvent(ctx context.Context, event model.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, event); err != nil {
		logger.Warnf("Failed to publish %s event of task %s: %v", event.Type, event.TaskID, err)
	}
}

// Close closes the underlying client.
func (p *EventPublisher) Close() error {
	return p.client.Close()
}

var _ port.EventListener = (*EventPublisher)(nil)
