package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

func newRunCommand(load configLoader) *cobra.Command {
	var (
		jobFile   string
		overrides jobOverrides
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a data file to completion without the HTTP API",
		Long: "run starts or resumes the task described by a job file and waits for it. " +
			"An interrupt stops the task at the next batch boundary; running the same job again resumes it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := loadJobFile(jobFile)
			if err != nil {
				return err
			}
			if err := overrides.apply(&req); err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}

			var op *usecase.DefaultTaskOperator
			app, stop, err := startApp(cmd.Context(), coreOptions(cfg, fx.Populate(&op)))
			if err != nil {
				return err
			}
			summary, runErr := runToCompletion(cmd.Context(), op, req, app.Done())
			if err := stop(); err != nil {
				logger.Warnf("Shutdown: %v", err)
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatSummary(summary))
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobFile, "job", "j", "job.yaml", "job file (YAML or JSON)")
	cmd.Flags().StringVar(&overrides.DataFile, "data", "", "data file, overrides dataFile")
	cmd.Flags().StringVar(&overrides.Fields, "fields", "", "comma separated column indexes, overrides selectedFields")
	cmd.Flags().IntVar(&overrides.StartPos, "start", 0, "first row of the window")
	cmd.Flags().IntVar(&overrides.EndPos, "end", 0, "end of the window, exclusive")
	cmd.Flags().IntVar(&overrides.BatchSize, "batch-size", 0, "rows per batch")
	return cmd
}

// runToCompletion starts req and waits for it. The first signal on stopSignals
// stops the task; the summary of the stopped run is still returned.
func runToCompletion(ctx context.Context, op *usecase.DefaultTaskOperator, req model.StartRequest, stopSignals <-chan os.Signal) (*model.Summary, error) {
	id, err := op.StartTask(ctx, req)
	if err != nil {
		return nil, err
	}

	type result struct {
		summary *model.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := op.Wait(context.Background())
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		return r.summary, r.err
	case sig := <-stopSignals:
		logger.Warnf("Received %v, stopping task %s at the next batch boundary.", sig, id)
	case <-ctx.Done():
		logger.Warnf("Context cancelled, stopping task %s at the next batch boundary.", id)
	}
	if err := op.StopTask(context.Background(), id); err != nil && !errors.Is(err, usecase.ErrTaskNotActive) {
		return nil, err
	}
	r := <-done
	return r.summary, r.err
}

func formatSummary(s *model.Summary) string {
	if s == nil {
		return "no task ran"
	}
	state := "completed"
	if s.IsPaused {
		state = "stopped (resumable)"
	}
	return fmt.Sprintf("task %s %s: processed=%d success=%d errors=%d skipped=%d results=%s",
		s.TaskID, state, s.ProcessedRows, s.SuccessCount, s.ErrorCount, s.SkippedCount, s.OutputFiles.SuccessFile)
}
