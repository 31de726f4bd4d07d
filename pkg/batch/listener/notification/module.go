package notification

import (
	"go.uber.org/fx"
)

// Module provides the ports.Notifier.
var Module = fx.Options(
	fx.Provide(NewLogNotifier),
)
