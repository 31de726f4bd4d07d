package sse

import (
	"time"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
)

// Default configuration values.
const (
	DefaultEventBufferSize   = 1000
	DefaultClientBufferSize  = 100
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMaxClients        = 1000
)

// BrokerOption configures a broker.
type BrokerOption func(*EventBroker)

// WithEventBufferSize sets the publish buffer size.
func WithEventBufferSize(size int) BrokerOption {
	return func(b *EventBroker) {
		if size > 0 {
			b.eventBufferSize = size
		}
	}
}

// WithClientBufferSize sets the default per-client buffer size.
func WithClientBufferSize(size int) BrokerOption {
	return func(b *EventBroker) {
		if size > 0 {
			b.clientBufferSize = size
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period used by Handler.
func WithHeartbeatInterval(interval time.Duration) BrokerOption {
	return func(b *EventBroker) {
		if interval > 0 {
			b.heartbeatInterval = interval
		}
	}
}

// WithMaxClients sets the maximum number of concurrent clients; 0 is unlimited.
func WithMaxClients(maxClients int) BrokerOption {
	return func(b *EventBroker) {
		b.maxClients = maxClients
	}
}

// WithConfig applies promptbatch.server.sse.
func WithConfig(cfg config.SSEConfig) BrokerOption {
	return func(b *EventBroker) {
		WithEventBufferSize(cfg.EventBufferSize)(b)
		WithClientBufferSize(cfg.ClientBufferSize)(b)
		WithHeartbeatInterval(time.Duration(cfg.HeartbeatSeconds) * time.Second)(b)
		if cfg.WriteTimeoutSeconds > 0 {
			b.writeTimeout = time.Duration(cfg.WriteTimeoutSeconds) * time.Second
		}
		b.maxClients = cfg.MaxClients
	}
}

// ClientOption configures a subscription.
type ClientOption func(*ClientOptions)

// WithFilter sets an event filter for the client.
func WithFilter(filter EventFilter) ClientOption {
	return func(opts *ClientOptions) {
		opts.Filter = filter
	}
}

// WithBufferSize sets the client's event buffer size.
func WithBufferSize(size int) ClientOption {
	return func(opts *ClientOptions) {
		if size > 0 {
			opts.BufferSize = size
		}
	}
}

// WithTaskFilter passes only the events of taskID.
func WithTaskFilter(taskID string) ClientOption {
	return WithFilter(func(event Event) bool {
		return event.TaskID == taskID
	})
}
