package sse

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// EventBroker is the in-process Broker.
type EventBroker struct {
	clients map[string]*client
	mu      sync.RWMutex

	publish chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventBufferSize   int
	clientBufferSize  int
	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	shutdownTimeout   time.Duration
	maxClients        int
}

// NewBroker creates a broker. Call Start before publishing.
func NewBroker(opts ...BrokerOption) *EventBroker {
	b := &EventBroker{
		clients:           make(map[string]*client),
		eventBufferSize:   DefaultEventBufferSize,
		clientBufferSize:  DefaultClientBufferSize,
		heartbeatInterval: DefaultHeartbeatInterval,
		shutdownTimeout:   DefaultShutdownTimeout,
		maxClients:        DefaultMaxClients,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.publish = make(chan Event, b.eventBufferSize)
	return b
}

// Start implements Broker.
func (b *EventBroker) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.broadcastLoop()
	logger.Infof("SSE broker started (event buffer %d, client buffer %d, heartbeat %s, max clients %d).",
		b.eventBufferSize, b.clientBufferSize, b.heartbeatInterval, b.maxClients)
	return nil
}

// Stop implements Broker. Every client is disconnected.
func (b *EventBroker) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("SSE broker stopped.")
	case <-time.After(b.shutdownTimeout):
		logger.Warnf("SSE broker shutdown timeout exceeded.")
	}
	return nil
}

// Publish implements Broker.
func (b *EventBroker) Publish(ctx context.Context, event Event) error {
	select {
	case b.publish <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("publish buffer full (dropped event: %s)", event.Type)
	}
}

// Subscribe implements Broker. When the client limit is reached the returned channel is already closed.
func (b *EventBroker) Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func()) {
	clientOpts := ClientOptions{BufferSize: b.clientBufferSize}
	for _, opt := range opts {
		opt(&clientOpts)
	}

	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		logger.Warnf("Max SSE clients (%d) reached, rejecting new connection.", b.maxClients)
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}
	c := newClient(ctx, clientOpts.BufferSize, clientOpts.Filter)
	b.clients[c.id] = c
	total := len(b.clients)
	b.mu.Unlock()
	logger.Debugf("SSE client %s subscribed (%d total).", c.id, total)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-c.ctx.Done()
		b.removeClient(c.id)
	}()
	return c.events, func() { b.removeClient(c.id) }
}

// ClientCount implements Broker.
func (b *EventBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HeartbeatInterval returns the configured heartbeat period.
func (b *EventBroker) HeartbeatInterval() time.Duration {
	return b.heartbeatInterval
}

func (b *EventBroker) broadcastLoop() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-b.ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

// broadcast sends event to every client. Slow clients are disconnected.
func (b *EventBroker) broadcast(event Event) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var slow []string
	for _, c := range clients {
		if !c.send(event) {
			slow = append(slow, c.id)
		}
	}
	for _, id := range slow {
		logger.Warnf("SSE client %s buffer full, closing slow connection (event %s).", id, event.Type)
		b.removeClient(id)
	}
}

func (b *EventBroker) removeClient(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()
	if ok {
		c.close()
		logger.Debugf("SSE client %s disconnected.", id)
	}
}

func (b *EventBroker) disconnectAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*client)
	b.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	logger.Infof("All SSE clients disconnected (%d).", len(clients))
}
