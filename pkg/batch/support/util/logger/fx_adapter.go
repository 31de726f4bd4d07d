package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter implements fxevent.Logger on top of this package.
// Successful wiring events are logged at DEBUG; failures at ERROR.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent logs events from fx.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		hookResult("OnStart", e.FunctionName, e.Err)
	case *fxevent.OnStopExecuted:
		hookResult("OnStop", e.FunctionName, e.Err)
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("fx: supply %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide %s failed: %v", shortFuncName(e.ConstructorName), e.Err)
			return
		}
		for _, t := range e.OutputTypeNames {
			Debugf("fx: provided %s", t)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s failed: %v", shortFuncName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Infof("Received %s, stopping.", strings.ToUpper(e.Signal.String()))
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("fx: stop failed: %v", e.Err)
		}
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("fx: rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("fx: start failed: %v", e.Err)
		} else {
			Infof("Application started.")
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx: custom logger failed: %v", e.Err)
		}
	}
}

func hookResult(kind, fn string, err error) {
	if err != nil {
		Errorf("fx: %s hook %s failed: %v", kind, shortFuncName(fn), err)
		return
	}
	Debugf("fx: %s hook %s done", kind, shortFuncName(fn))
}

// shortFuncName drops closure suffixes such as ".func1" from fx function names.
func shortFuncName(name string) string {
	if idx := strings.LastIndex(name, ".func"); idx != -1 {
		return name[:idx]
	}
	return name
}
