package app

import (
	"github.com/spf13/cobra"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/transport/api"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

type configLoader func() (*config.Config, error)

func newServeCommand(load configLoader) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.PromptBatch.Server.Address = address
			}

			app, stop, err := startApp(cmd.Context(), coreOptions(cfg, api.Module))
			if err != nil {
				return err
			}
			select {
			case sig := <-app.Done():
				logger.Warnf("Received signal %v, shutting down.", sig)
			case <-cmd.Context().Done():
			}
			return stop()
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address, overrides promptbatch.server.address")
	return cmd
}
