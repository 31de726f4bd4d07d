package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.PromptBatch.System.Logging
}

// NewBatchConfigProvider extracts the processing defaults.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.PromptBatch.Batch
}

// NewTaskConfigProvider extracts the task registry settings.
func NewTaskConfigProvider(cfg *Config) *TaskConfig {
	return &cfg.PromptBatch.Task
}

// Module provides the configuration sections and the EnvironmentExpander to Fx.
// *Config itself is supplied by the application.
var Module = fx.Options(
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewBatchConfigProvider),
	fx.Provide(NewTaskConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
