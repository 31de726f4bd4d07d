package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go.uber.org/fx"

	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// loadConfig builds the configuration in layers: defaults, the embedded YAML with
// ${VAR} references expanded, then PROMPTBATCH_* environment variables.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not loaded: %v", envFilePath, err)
		}
	}

	cfg := NewConfig()

	if len(embeddedConfig) > 0 {
		expanded, err := expander.Expand(embeddedConfig)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to expand environment references in config", err, false, false)
		}
		// Decoding onto the defaults leaves keys absent from the YAML untouched.
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML, the .env file and the environment.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, NewOsEnvironmentExpander())
}

// NewConfigProvider is an Fx provider that loads *Config, publishes it as
// GlobalConfig and applies the logging settings.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	GlobalConfig = cfg

	logging := cfg.PromptBatch.System.Logging
	logger.Configure(logging.Format, logging.Level)
	logger.Infof("Log level set to: %s", logging.Level)
	return cfg, nil
}

func validate(cfg *Config) error {
	pb := cfg.PromptBatch
	switch pb.Task.Identity {
	case IdentityPath, IdentityContent:
	default:
		return exception.NewValidationError(moduleName, fmt.Sprintf("task.identity must be %q or %q, got %q", IdentityPath, IdentityContent, pb.Task.Identity))
	}
	switch pb.History.Type {
	case HistoryMemory, HistorySQLite, HistoryMySQL, HistoryPostgres:
	default:
		return exception.NewValidationError(moduleName, fmt.Sprintf("history.type %q is not supported", pb.History.Type))
	}
	if pb.History.Type != HistoryMemory && pb.History.DSN == "" {
		return exception.NewValidationError(moduleName, fmt.Sprintf("history.dsn is required for history.type %q", pb.History.Type))
	}
	if pb.Batch.BatchSize <= 0 {
		return exception.NewValidationError(moduleName, "batch.batch_size must be positive")
	}
	if pb.Batch.MaxRetries <= 0 {
		return exception.NewValidationError(moduleName, "batch.max_retries must be positive")
	}
	if pb.Events.Redis.Enabled && pb.Events.Redis.Channel == "" {
		return exception.NewValidationError(moduleName, "events.redis.channel is required when redis is enabled")
	}
	return nil
}

// loadStructFromEnv recursively loads values into a struct from environment variables.
// Variable names are the upper-cased yaml tag path joined with "_",
// e.g. PROMPTBATCH_SERVER_ADDRESS.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField converts value to the kind of field and assigns it.
// String slices are read as comma separated lists.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		parts := strings.Split(value, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
