package main

import (
	"context"
	_ "embed"
	"os"

	"github.com/tigerroll/promptbatch/internal/app"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// embeddedConfig is the default configuration. ${VAR} references are expanded
// and PROMPTBATCH_* variables override individual keys.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	if err := app.Execute(context.Background(), embeddedConfig); err != nil {
		logger.Errorf("%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
