// Package listener aggregates the observers attached to the orchestrator.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/promptbatch/pkg/batch/listener/notification"
	"github.com/tigerroll/promptbatch/pkg/batch/listener/redis"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
	notification.Module,
	redis.Module,
)
