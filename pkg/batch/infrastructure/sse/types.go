// Package sse streams orchestrator events to HTTP clients as Server-Sent Events.
package sse

import (
	"context"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// Event is one Server-Sent Event.
// Format: event: <Type>\nid: <ID>\ndata: <JSON payload>\n\n
type Event struct {
	Type string `json:"type"`
	// Data must be JSON-serializable.
	Data any    `json:"data"`
	ID   string `json:"id,omitempty"`
	// Retry tells the client how long to wait before reconnecting, in milliseconds.
	Retry int `json:"retry,omitempty"`
	// TaskID scopes the event for per-task subscriptions; it is not written to the stream.
	TaskID string `json:"-"`
}

// FromTaskEvent wraps an orchestrator event.
func FromTaskEvent(e model.Event) Event {
	return Event{Type: string(e.Type), Data: e, TaskID: e.TaskID}
}

// Broker manages SSE connections and event distribution.
type Broker interface {
	// Publish queues event for every connected client. It fails when the buffer is full.
	Publish(ctx context.Context, event Event) error
	// Subscribe returns the client's event channel, closed when the subscription ends,
	// and a cleanup function.
	Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func())
	// Start begins distributing events (non-blocking).
	Start(ctx context.Context) error
	Stop() error
	ClientCount() int
}

// EventFilter returns true for events the client should receive.
type EventFilter func(event Event) bool

// ClientOptions configures a single subscription.
type ClientOptions struct {
	Filter     EventFilter
	BufferSize int
}

// Internal event types.
const (
	eventTypeConnected = "connected"
)
