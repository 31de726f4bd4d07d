package usecase

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/promptbatch/pkg/batch/core/ports"
)

// OrchestratorParams are the dependencies of the orchestrator. Listeners are
// collected from the "eventListeners", "runListeners" and "batchListeners" groups.
type OrchestratorParams struct {
	fx.In
	Config    *config.Config
	Tasks     repository.TaskRepository
	History   repository.RunRepository
	Providers port.ProviderFactory
	Progress  port.ProgressStore

	Reporter port.Reporter          `optional:"true"`
	Recorder metrics.MetricRecorder `optional:"true"`
	Tracer   metrics.Tracer         `optional:"true"`
	Notifier ports.Notifier         `optional:"true"`

	Events  []port.EventListener `group:"eventListeners"`
	Runs    []port.RunListener   `group:"runListeners"`
	Batches []port.BatchListener `group:"batchListeners"`
}

// NewOrchestratorFromParams builds the orchestrator from the fx graph.
func NewOrchestratorFromParams(p OrchestratorParams) *Orchestrator {
	opts := []OrchestratorOption{
		WithListeners(Listeners{Events: p.Events, Runs: p.Runs, Batches: p.Batches}),
	}
	if p.Reporter != nil {
		opts = append(opts, WithReporter(p.Reporter))
	}
	if p.Recorder != nil {
		opts = append(opts, WithMetricRecorder(p.Recorder))
	}
	if p.Tracer != nil {
		opts = append(opts, WithTracer(p.Tracer))
	}
	if p.Notifier != nil {
		opts = append(opts, WithNotifier(p.Notifier))
	}
	return NewOrchestrator(p.Tasks, p.History, p.Providers, p.Progress, SettingsFromConfig(p.Config), opts...)
}

func provideTaskOperator(
	lc fx.Lifecycle,
	cfg *config.Config,
	orchestrator *Orchestrator,
	tasks repository.TaskRepository,
	runs repository.RunRepository,
	progress port.ProgressStore,
	exporter port.ResultExporter,
) *DefaultTaskOperator {
	op := NewDefaultTaskOperator(orchestrator, tasks, runs, progress, exporter, cfg.PromptBatch.Task.RetentionDays)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return op.Shutdown(ctx)
		},
	})
	return op
}

// Module provides the Orchestrator and the TaskOperator.
var Module = fx.Options(
	fx.Provide(NewOrchestratorFromParams),
	fx.Provide(provideTaskOperator),
	fx.Provide(func(op *DefaultTaskOperator) TaskOperator { return op }),
)
