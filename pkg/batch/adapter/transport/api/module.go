package api

import (
	"context"

	"go.uber.org/fx"

	storage "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/promptbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/promptbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/sse"
)

// ServerParams are the dependencies of the HTTP API.
type ServerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Operator   usecase.TaskOperator
	Tasks      repository.TaskRepository
	Storage    storage.StorageProvider
	Broker     *sse.EventBroker            `optional:"true"`
	Prometheus *metrics.PrometheusRecorder `optional:"true"`
}

// NewServerFromParams builds the router and server and binds the server to the lifecycle.
// Event stream clients are disconnected before the server drains.
func NewServerFromParams(p ServerParams) (*Server, error) {
	pb := p.Config.PromptBatch
	uploads, err := p.Storage.GetConnection(storage.ConnectionUploads)
	if err != nil {
		return nil, err
	}
	opts := RouterOptions{
		Mode:        pb.Server.Mode,
		CORSOrigins: pb.Server.CORSOrigins,
	}
	if p.Broker != nil {
		opts.Events = p.Broker.Handler()
	}
	if p.Prometheus != nil && pb.Metrics.Enabled {
		opts.Metrics = p.Prometheus.Handler()
	}
	h := NewHandler(p.Operator, p.Tasks, uploads, pb.Server.MaxUploadMB)
	srv := NewServer(pb.Server.Address, NewRouter(h, opts))

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			if p.Broker != nil {
				_ = p.Broker.Stop()
			}
			return srv.Shutdown(ctx)
		},
	})
	return srv, nil
}

// Module provides the HTTP API server and forces its construction.
var Module = fx.Options(
	fx.Provide(NewServerFromParams),
	fx.Invoke(func(*Server) {}),
)
