// Package config provides structures and utilities for managing application configuration.
package config

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// Task identity modes.
const (
	// IdentityPath hashes path, size and modification time of the data file.
	IdentityPath = "path"
	// IdentityContent hashes the data file bytes with sha256.
	IdentityContent = "content"
)

// History store types.
const (
	HistoryMemory   = "memory"
	HistorySQLite   = "sqlite"
	HistoryMySQL    = "mysql"
	HistoryPostgres = "postgres"
)

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists keys whose values are masked in logs, metadata and run history.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// BatchConfig holds processing defaults applied when a request leaves a value unset.
type BatchConfig struct {
	BatchSize              int     `yaml:"batch_size"`               // rows per batch
	PacingIntervalSeconds  float64 `yaml:"pacing_interval_seconds"`  // sleep between batches
	MaxRetries             int     `yaml:"max_retries"`              // total provider attempts per row
	RetryIntervalSeconds   float64 `yaml:"retry_interval_seconds"`   // backoff base
	MaxBackoffSeconds      float64 `yaml:"max_backoff_seconds"`      // backoff cap
	LLMConcurrentLimit     int     `yaml:"llm_concurrent_limit"`     // permit pool size for llm
	AgentConcurrentLimit   int     `yaml:"agent_concurrent_limit"`   // permit pool size for aliyun_agent
	PausePollIntervalMs    int     `yaml:"pause_poll_interval_ms"`   // pause busy-wait period
	RequestTimeoutSeconds  int     `yaml:"request_timeout_seconds"`  // 0 means no client timeout
	RawResponseLogEnabled  bool    `yaml:"raw_response_log_enabled"` // append raw_responses_*.jsonl
}

// TaskConfig holds task registry settings.
type TaskConfig struct {
	// BaseDir is the root directory under which task directories are created.
	BaseDir string `yaml:"base_dir"`
	// UploadDir is where uploaded data files are stored by the HTTP API.
	UploadDir string `yaml:"upload_dir"`
	// Identity selects how a data file is fingerprinted: "path" or "content".
	Identity string `yaml:"identity"`
	// RetentionDays is the default age cutoff for cleanup.
	RetentionDays int `yaml:"retention_days"`
}

// SSEConfig holds server-sent events broker settings.
type SSEConfig struct {
	EventBufferSize     int `yaml:"event_buffer_size"`
	ClientBufferSize    int `yaml:"client_buffer_size"`
	HeartbeatSeconds    int `yaml:"heartbeat_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	MaxClients          int `yaml:"max_clients"`
}

// ServerConfig holds the HTTP control API settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Mode    string    `yaml:"mode"` // gin mode: debug, release, test
	SSE     SSEConfig `yaml:"sse"`
	// CORSOrigins lists the allowed origins; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
	// MaxUploadMB limits the size of an uploaded data file.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

// HistoryConfig selects the run history store.
type HistoryConfig struct {
	// Type is one of memory, sqlite, mysql, postgres.
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
	// MigrateOnStart applies schema migrations before the store is used.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// MetricsConfig holds Prometheus and OTLP metric settings.
type MetricsConfig struct {
	Enabled         bool `yaml:"enabled"`
	AsyncBufferSize int  `yaml:"async_buffer_size"`
	// OTLPEndpoint, when set, also pushes metrics over OTLP/HTTP (host:port).
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // OTLP/HTTP host:port; empty keeps spans in process
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// RedisConfig holds the Redis event publisher settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// EventsConfig holds settings for external event fan-out.
type EventsConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// PromptBatchConfig holds all configuration under the "promptbatch" top-level key.
type PromptBatchConfig struct {
	System   SystemConfig   `yaml:"system"`
	Batch    BatchConfig    `yaml:"batch"`
	Task     TaskConfig     `yaml:"task"`
	Server   ServerConfig   `yaml:"server"`
	History  HistoryConfig  `yaml:"history"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Events   EventsConfig   `yaml:"events"`
	Security SecurityConfig `yaml:"security"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	PromptBatch PromptBatchConfig `yaml:"promptbatch"`
	// EmbeddedConfig holds the raw bytes the configuration was loaded from.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is the configuration instance shared across the application.
// It is set by NewConfigProvider.
var GlobalConfig *Config

// GetMaskedParameterKeys returns the keys to be masked, falling back to the defaults
// when no configuration has been loaded.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return defaultMaskedKeys()
	}
	return GlobalConfig.PromptBatch.Security.MaskedParameterKeys
}

func defaultMaskedKeys() []string {
	return []string{"api_key", "apiKey", "password", "secret"}
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		PromptBatch: PromptBatchConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "console"},
			},
			Batch: BatchConfig{
				BatchSize:             5,
				PacingIntervalSeconds: 0.5,
				MaxRetries:            5,
				RetryIntervalSeconds:  0.5,
				MaxBackoffSeconds:     10,
				LLMConcurrentLimit:    10,
				AgentConcurrentLimit:  5,
				PausePollIntervalMs:   1000,
				RawResponseLogEnabled: true,
			},
			Task: TaskConfig{
				BaseDir:       "outputData/tasks",
				UploadDir:     "uploads",
				Identity:      IdentityPath,
				RetentionDays: 7,
			},
			Server: ServerConfig{
				Address:     ":3001",
				Mode:        "release",
				CORSOrigins: []string{"*"},
				MaxUploadMB: 50,
				SSE: SSEConfig{
					EventBufferSize:     1000,
					ClientBufferSize:    100,
					HeartbeatSeconds:    15,
					WriteTimeoutSeconds: 5,
					MaxClients:          1000,
				},
			},
			History: HistoryConfig{
				Type:           HistoryMemory,
				MigrateOnStart: true,
			},
			Metrics: MetricsConfig{
				Enabled:         true,
				AsyncBufferSize: 100,
			},
			Tracing: TracingConfig{
				ServiceName: "promptbatch",
			},
			Events: EventsConfig{
				Redis: RedisConfig{
					Address: "localhost:6379",
					Channel: "promptbatch:events",
				},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: defaultMaskedKeys(),
			},
		},
	}
}
