package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const sseContentType = "text/event-stream"

// Handler streams broker events to the client until it disconnects or the broker stops.
// A "taskId" query parameter limits the stream to one task.
func (b *EventBroker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var opts []ClientOption
		if taskID := c.Query("taskId"); taskID != "" {
			opts = append(opts, WithTaskFilter(taskID))
		}
		events, cleanup := b.Subscribe(c.Request.Context(), opts...)
		defer cleanup()

		select {
		case _, ok := <-events:
			if !ok {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
				return
			}
		default:
		}

		SetHeaders(c.Writer)
		c.Status(http.StatusOK)
		rc := http.NewResponseController(c.Writer)
		write := func(fn func(w io.Writer) error) bool {
			if b.writeTimeout > 0 {
				_ = rc.SetWriteDeadline(time.Now().Add(b.writeTimeout))
			}
			if err := fn(c.Writer); err != nil {
				logger.Debugf("SSE write failed (client likely disconnected): %v", err)
				return false
			}
			c.Writer.Flush()
			return true
		}

		connected := Event{Type: eventTypeConnected, Data: gin.H{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"message":   "SSE connection established",
		}}
		if !write(func(w io.Writer) error { return WriteEvent(w, connected) }) {
			return
		}
		logger.Debugf("SSE client connected from %s.", c.ClientIP())

		ticker := time.NewTicker(b.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if !write(func(w io.Writer) error { return WriteEvent(w, event) }) {
					return
				}
			case <-ticker.C:
				if !write(writeHeartbeat) {
					return
				}
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

// SetHeaders sets the standard SSE response headers.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", sseContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// WriteEvent writes event in the text/event-stream format.
func WriteEvent(w io.Writer, event Event) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return fmt.Errorf("write retry: %w", err)
		}
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	return nil
}

func writeHeartbeat(w io.Writer) error {
	if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}
