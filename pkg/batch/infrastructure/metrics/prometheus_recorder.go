package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
// Task ids are never used as labels.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run metrics
	runStatusCounter   *prometheus.CounterVec
	runDurationSeconds *prometheus.HistogramVec
	runsActive         prometheus.Gauge

	// Batch and row metrics
	batchDurationSeconds prometheus.Histogram
	batchRows            prometheus.Counter
	rowCounter           *prometheus.CounterVec
	rowErrorCounter      *prometheus.CounterVec

	// Provider metrics
	providerRequests        *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerRetries         *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptbatch_runs_total",
			Help: "Total number of finished or paused runs by status.",
		}, []string{"status"}),
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptbatch_run_duration_seconds",
			Help:    "Duration of runs.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "promptbatch_runs_active",
			Help: "Number of runs currently in progress.",
		}),
		batchDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptbatch_batch_duration_seconds",
			Help:    "Time to resolve one batch of rows.",
			Buckets: prometheus.DefBuckets,
		}),
		batchRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptbatch_batch_rows_total",
			Help: "Total rows dispatched in batches.",
		}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptbatch_rows_total",
			Help: "Total processed rows by outcome.",
		}, []string{"outcome"}),
		rowErrorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptbatch_row_errors_total",
			Help: "Total row errors by reason.",
		}, []string{"reason"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptbatch_provider_requests_total",
			Help: "Total HTTP attempts against API providers.",
		}, []string{"api_type", "outcome"}),
		providerRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptbatch_provider_request_duration_seconds",
			Help:    "Latency of a single provider HTTP attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"api_type"}),
		providerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptbatch_provider_retries_total",
			Help: "Total provider retries by reason.",
		}, []string{"api_type", "reason"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptbatch_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(
		r.runStatusCounter,
		r.runDurationSeconds,
		r.runsActive,
		r.batchDurationSeconds,
		r.batchRows,
		r.rowCounter,
		r.rowErrorCounter,
		r.providerRequests,
		r.providerRequestDuration,
		r.providerRetries,
		r.operationDuration,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordRunStart records the start of a run.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, run *model.Run) {
	r.runsActive.Inc()
	logger.Debugf("Metrics: run %s started for task %s.", run.ID, run.TaskID)
}

// RecordRunEnd records the end of a run.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, run *model.Run) {
	r.runsActive.Dec()
	r.runStatusCounter.WithLabelValues(run.Status.String()).Inc()

	end := run.LastUpdated
	if run.EndTime != nil {
		end = *run.EndTime
	}
	duration := end.Sub(run.StartTime).Seconds()
	r.runDurationSeconds.WithLabelValues(run.Status.String()).Observe(duration)
	logger.Debugf("Metrics: run %s ended (%s). Duration: %.3fs", run.ID, run.Status, duration)
}

// RecordBatch records one resolved batch.
func (r *PrometheusRecorder) RecordBatch(ctx context.Context, taskID string, size int, duration time.Duration) {
	r.batchDurationSeconds.Observe(duration.Seconds())
	r.batchRows.Add(float64(size))
}

// RecordRowSuccess records a successful row.
func (r *PrometheusRecorder) RecordRowSuccess(ctx context.Context, taskID string) {
	r.rowCounter.WithLabelValues("success").Inc()
}

// RecordRowError records a failed row.
func (r *PrometheusRecorder) RecordRowError(ctx context.Context, taskID string, reason string) {
	r.rowCounter.WithLabelValues("error").Inc()
	r.rowErrorCounter.WithLabelValues(reason).Inc()
}

// RecordProviderRequest records one HTTP attempt.
func (r *PrometheusRecorder) RecordProviderRequest(ctx context.Context, apiType string, outcome string, duration time.Duration) {
	r.providerRequests.WithLabelValues(apiType, outcome).Inc()
	r.providerRequestDuration.WithLabelValues(apiType).Observe(duration.Seconds())
}

// RecordProviderRetry records a scheduled retry.
func (r *PrometheusRecorder) RecordProviderRetry(ctx context.Context, apiType string, reason string) {
	r.providerRetries.WithLabelValues(apiType, reason).Inc()
}

// RecordDuration records the execution time of a named operation. Tags are not used as labels.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
