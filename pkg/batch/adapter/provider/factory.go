package provider

import (
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
)

// Factory builds providers sharing one HTTP client and metric recorder.
type Factory struct {
	opts []Option
}

var _ port.ProviderFactory = (*Factory)(nil)

// NewFactory creates a Factory whose providers are built with opts.
func NewFactory(opts ...Option) *Factory {
	return &Factory{opts: opts}
}

// NewFactoryFromConfig applies the request timeout and backoff cap of promptbatch.batch.
func NewFactoryFromConfig(cfg *config.Config, recorder metrics.MetricRecorder) port.ProviderFactory {
	batch := cfg.PromptBatch.Batch
	opts := []Option{
		WithHTTPClient(&http.Client{Timeout: time.Duration(batch.RequestTimeoutSeconds) * time.Second}),
		WithMetricRecorder(recorder),
	}
	if batch.MaxBackoffSeconds > 0 {
		opts = append(opts, WithMaxBackoff(time.Duration(batch.MaxBackoffSeconds*float64(time.Second))))
	}
	return NewFactory(opts...)
}

// NewProvider implements port.ProviderFactory.
func (f *Factory) NewProvider(cfg model.APIConfig) (port.Provider, error) {
	return NewProvider(cfg, f.opts...)
}

// Module provides the ProviderFactory.
var Module = fx.Provide(NewFactoryFromConfig)
