package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/promptbatch/pkg/batch/core/application/usecase"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the columns, row count and a preview of a data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := reader.Describe(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

func newCleanupCommand(load configLoader) *cobra.Command {
	var maxAgeDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete task directories older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			var op usecase.TaskOperator
			_, stop, err := startApp(cmd.Context(), coreOptions(cfg, fx.Populate(&op)))
			if err != nil {
				return err
			}
			removed, err := op.CleanupTasks(cmd.Context(), maxAgeDays)
			if stopErr := stop(); stopErr != nil {
				logger.Warnf("Shutdown: %v", stopErr)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d task(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "age cutoff in days, defaults to promptbatch.task.retention_days")
	return cmd
}
