package sse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var clientIDCounter atomic.Int64

// client is one connected subscriber.
type client struct {
	id      string
	events  chan Event
	filter  EventFilter
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	closeMu sync.Mutex
}

func newClient(ctx context.Context, bufferSize int, filter EventFilter) *client {
	clientCtx, cancel := context.WithCancel(ctx)
	return &client{
		id:     fmt.Sprintf("sse-client-%d-%d", time.Now().UnixNano(), clientIDCounter.Add(1)),
		events: make(chan Event, bufferSize),
		filter: filter,
		ctx:    clientCtx,
		cancel: cancel,
	}
}

func (c *client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Load() {
		return
	}
	c.closed.Store(true)
	c.cancel()
	close(c.events)
}

// send delivers event without blocking. It returns false when the client buffer is full.
func (c *client) send(event Event) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Load() {
		return false
	}
	if c.filter != nil && !c.filter(event) {
		return true
	}
	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}
