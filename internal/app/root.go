package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

type globalFlags struct {
	envFile  string
	logLevel string
}

// NewRootCommand builds the promptbatch command tree. embedded is the YAML
// configuration compiled into the binary.
func NewRootCommand(embedded config.EmbeddedConfig) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "promptbatch",
		Short:         "Batch LLM processing of tabular data",
		Long:          "promptbatch sends the rows of CSV, spreadsheet and JSON files to an LLM or agent API in resumable batches.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultEnv := os.Getenv("ENV_FILE_PATH")
	if defaultEnv == "" {
		defaultEnv = ".env"
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", defaultEnv, "path of the .env file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	load := func() (*config.Config, error) {
		return loadConfig(flags.envFile, embedded, flags.logLevel)
	}

	root.AddCommand(
		newServeCommand(load),
		newRunCommand(load),
		newInspectCommand(),
		newCleanupCommand(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "promptbatch "+Version)
			},
		},
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, embedded config.EmbeddedConfig) error {
	return NewRootCommand(embedded).ExecuteContext(ctx)
}
