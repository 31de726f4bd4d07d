package logging

import (
	"go.uber.org/fx"
)

// Module provides the logging Reporter and registers the logging listeners in their groups.
var Module = fx.Options(
	fx.Provide(NewReporter),
	fx.Provide(fx.Annotate(NewLoggingRunListener, fx.ResultTags(`group:"runListeners"`))),
	fx.Provide(fx.Annotate(NewLoggingBatchListener, fx.ResultTags(`group:"batchListeners"`))),
	fx.Provide(fx.Annotate(NewLoggingEventListener, fx.ResultTags(`group:"eventListeners"`))),
)
