// Package provider implements the outbound API providers: a generic chat
// completions client ("llm") and an app completion client ("aliyun_agent").
// Both share a permit pool, exponential backoff retry and response normalization.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/promptbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/serialization"
)

const moduleName = "provider"

// retryableStatuses are retried; any other non-2xx status yields a null result.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

type options struct {
	client     *http.Client
	maxBackoff time.Duration
	recorder   metrics.MetricRecorder
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customises a provider.
type Option func(*options)

// WithHTTPClient sets the HTTP client. The client timeout bounds each attempt.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithMaxBackoff caps the delay between attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *options) { o.maxBackoff = d }
}

// WithMetricRecorder records every attempt and retry.
func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithSleeper replaces the backoff wait.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewProvider creates the provider for cfg.APIType. cfg is expected to have
// its defaults applied.
func NewProvider(cfg model.APIConfig, opts ...Option) (port.Provider, error) {
	switch cfg.APIType {
	case model.APITypeLLM:
		return NewLLMProvider(cfg, opts...), nil
	case model.APITypeAliyunAgent:
		return NewAgentProvider(cfg, opts...), nil
	default:
		return nil, exception.NewValidationError(moduleName, fmt.Sprintf("unsupported api_type %q", cfg.APIType))
	}
}

// parseFunc normalizes a 2xx body; a nil result is the null outcome.
type parseFunc func(body []byte) *model.APIResult

// client holds what every provider variant shares.
type client struct {
	apiType  string
	apiKey   string
	http     *http.Client
	permits  *semaphore.Weighted
	limit    int
	policy   retry.RetryPolicy
	recorder metrics.MetricRecorder
	sleep    func(ctx context.Context, d time.Duration) error
}

func newClient(apiType string, cfg model.APIConfig, opts []Option) *client {
	o := &options{
		client:     &http.Client{},
		maxBackoff: retry.DefaultMaxBackoff,
		recorder:   metrics.NewNoOpMetricRecorder(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}

	limit := cfg.ConcurrentLimit
	if limit <= 0 {
		limit = 1
	}
	interval := time.Duration(cfg.RetryInterval * float64(time.Second))
	factory := &retry.DefaultRetryPolicyFactory{MaxBackoff: o.maxBackoff}

	return &client{
		apiType:  apiType,
		apiKey:   cfg.APIKey,
		http:     o.client,
		permits:  semaphore.NewWeighted(int64(limit)),
		limit:    limit,
		policy:   factory.Create(cfg.MaxRetries, interval, nil),
		recorder: o.recorder,
		sleep:    o.sleep,
	}
}

// post sends payload to url under one permit, retrying transient failures.
func (c *client) post(ctx context.Context, url string, payload interface{}, parse parseFunc) (*model.APIResult, error) {
	if err := c.permits.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.permits.Release(1)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to encode request body", err, false, false)
	}

	maxAttempts := c.policy.GetMaxAttempts()
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := c.attempt(ctx, url, body, parse)
		if err == nil {
			return result, nil
		}
		if !c.policy.ShouldRetry(err) {
			if attempt > 0 {
				return nil, &port.RetriesExhaustedError{Retries: attempt, Err: err}
			}
			return nil, err
		}
		lastErr = err
		if attempt+1 >= maxAttempts {
			break
		}
		delay := c.policy.GetBackoffInterval(attempt)
		logger.Warnf("Request to %s failed: %s, retry %d/%d in %s", url, exception.ExtractErrorMessage(err), attempt+1, maxAttempts-1, delay)
		c.recorder.RecordProviderRetry(ctx, c.apiType, retryReason(err))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	logger.Errorf("Request to %s failed after %d attempts: %v", url, maxAttempts, lastErr)
	return nil, &port.RetriesExhaustedError{
		Retries: maxAttempts - 1,
		Err:     exception.NewBatchError(moduleName, fmt.Sprintf("request failed after %d attempts", maxAttempts), lastErr, false, false),
	}
}

func (c *client) attempt(ctx context.Context, url string, body []byte, parse parseFunc) (*model.APIResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to build request", err, false, false)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.recorder.RecordProviderRequest(ctx, c.apiType, "transport_error", time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, exception.NewBatchError(moduleName, "transport error", err, false, true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.recorder.RecordProviderRequest(ctx, c.apiType, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to read response body", err, false, true)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return parse(data), nil
	case retryableStatuses[resp.StatusCode]:
		return nil, exception.NewBatchErrorf(moduleName, "HTTP %d: %s", resp.StatusCode, truncate(string(data), 200), true)
	default:
		logger.Errorf("Request to %s failed with HTTP %d: %s", url, resp.StatusCode, truncate(string(data), 200))
		return nil, nil
	}
}

func (c *client) describe() string {
	return fmt.Sprintf("key=%s concurrency=%d attempts=%d", serialization.MaskSecret(c.apiKey), c.limit, c.policy.GetMaxAttempts())
}

// retryReason turns a retryable error into a low-cardinality label: http_503, transport_error.
func retryReason(err error) string {
	msg := exception.ExtractErrorMessage(err)
	if rest, ok := strings.CutPrefix(msg, "HTTP "); ok {
		code, _, _ := strings.Cut(rest, ":")
		return "http_" + code
	}
	return strings.ReplaceAll(msg, " ", "_")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
