package sse

import (
	"context"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// EventListener forwards orchestrator events to a Broker without blocking.
type EventListener struct {
	broker Broker
}

// NewEventListener creates an EventListener publishing to broker.
func NewEventListener(broker Broker) *EventListener {
	return &EventListener{broker: broker}
}

// OnEvent implements port.EventListener. Events are dropped when the broker buffer is full.
func (l *EventListener) OnEvent(ctx context.Context, event model.Event) {
	if err := l.broker.Publish(context.WithoutCancel(ctx), FromTaskEvent(event)); err != nil {
		logger.Warnf("SSE: %v", err)
	}
}

var _ port.EventListener = (*EventListener)(nil)
