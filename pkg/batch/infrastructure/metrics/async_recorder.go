package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// MetricEvent is a measurement queued for asynchronous recording.
type MetricEvent struct {
	Type     string
	Run      *model.Run
	TaskID   string
	Name     string // api type for provider events, operation name for durations
	Reason   string // row error reason, provider outcome or retry reason
	Count    int
	Duration time.Duration
	Tags     map[string]string
}

// Metric event types.
const (
	MetricEventTypeRunStart        = "run_start"
	MetricEventTypeRunEnd          = "run_end"
	MetricEventTypeBatch           = "batch"
	MetricEventTypeRowSuccess      = "row_success"
	MetricEventTypeRowError        = "row_error"
	MetricEventTypeProviderRequest = "provider_request"
	MetricEventTypeProviderRetry   = "provider_retry"
	MetricEventTypeRecordDuration  = "record_duration"
)

// AsyncMetricRecorder queues measurements on a channel and records them on a worker
// goroutine so row processing never blocks on a backend. Events are dropped when the
// queue is full.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder starts the worker. bufferSize <= 0 means 100.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeRunStart:
		r.syncRecorder.RecordRunStart(ctx, event.Run)
	case MetricEventTypeRunEnd:
		r.syncRecorder.RecordRunEnd(ctx, event.Run)
	case MetricEventTypeBatch:
		r.syncRecorder.RecordBatch(ctx, event.TaskID, event.Count, event.Duration)
	case MetricEventTypeRowSuccess:
		r.syncRecorder.RecordRowSuccess(ctx, event.TaskID)
	case MetricEventTypeRowError:
		r.syncRecorder.RecordRowError(ctx, event.TaskID, event.Reason)
	case MetricEventTypeProviderRequest:
		r.syncRecorder.RecordProviderRequest(ctx, event.Name, event.Reason, event.Duration)
	case MetricEventTypeProviderRetry:
		r.syncRecorder.RecordProviderRetry(ctx, event.Name, event.Reason)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.Name, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the worker after draining queued events. It is safe to call more than once.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		logger.Debugf("AsyncMetricRecorder: Shutdown complete.")
	})
}

func (r *AsyncMetricRecorder) sendEvent(event MetricEvent) {
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s). Event discarded.", event.Type)
	}
}

// RecordRunStart queues a run start. The run is copied since the caller keeps mutating it.
func (r *AsyncMetricRecorder) RecordRunStart(ctx context.Context, run *model.Run) {
	snapshot := *run
	r.sendEvent(MetricEvent{Type: MetricEventTypeRunStart, Run: &snapshot})
}

// RecordRunEnd queues a run end.
func (r *AsyncMetricRecorder) RecordRunEnd(ctx context.Context, run *model.Run) {
	snapshot := *run
	r.sendEvent(MetricEvent{Type: MetricEventTypeRunEnd, Run: &snapshot})
}

func (r *AsyncMetricRecorder) RecordBatch(ctx context.Context, taskID string, size int, duration time.Duration) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatch, TaskID: taskID, Count: size, Duration: duration})
}

func (r *AsyncMetricRecorder) RecordRowSuccess(ctx context.Context, taskID string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRowSuccess, TaskID: taskID})
}

func (r *AsyncMetricRecorder) RecordRowError(ctx context.Context, taskID string, reason string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRowError, TaskID: taskID, Reason: reason})
}

func (r *AsyncMetricRecorder) RecordProviderRequest(ctx context.Context, apiType string, outcome string, duration time.Duration) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeProviderRequest, Name: apiType, Reason: outcome, Duration: duration})
}

func (r *AsyncMetricRecorder) RecordProviderRetry(ctx context.Context, apiType string, reason string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeProviderRetry, Name: apiType, Reason: reason})
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordDuration, Name: name, Duration: duration, Tags: tags})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
