// Package logger provides the leveled logging used across promptbatch.
// Messages are formatted printf-style and emitted through a zap sugared logger,
// so callers keep a single package-level API while output stays structured.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for errors that terminate the process.
	LevelFatal
)

var (
	mu      sync.RWMutex
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugared = newSugared("console", level)
)

// newSugared builds the zap backend. format is "json" or "console".
func newSugared(format string, lvl zap.AtomicLevel) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// Configure replaces the backend with the given output format and level.
// Unknown formats fall back to console output.
func Configure(format, lvl string) {
	SetLogLevel(lvl)
	mu.Lock()
	defer mu.Unlock()
	sugared = newSugared(format, level)
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive);
// anything else selects INFO.
func SetLogLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "DEBUG", "TRACE":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO", "":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN", "WARNING":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL", "SILENT":
		level.SetLevel(zapcore.FatalLevel)
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", lvl)
		level.SetLevel(zapcore.InfoLevel)
	}
}

// GetLogLevel reports the current level.
func GetLogLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelFatal
	}
}

// Zap exposes the underlying zap logger for libraries that accept one.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared.Desugar()
}

func backend() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	backend().Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	backend().Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	backend().Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	backend().Errorf(format, v...)
}

// Fatalf outputs a FATAL level log message and terminates the program.
func Fatalf(format string, v ...interface{}) {
	backend().Fatalf(format, v...)
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() error {
	return backend().Sync()
}
