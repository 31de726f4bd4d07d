package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type    string `yaml:"type"`     // only "local" is built in
	BaseDir string `yaml:"base_dir"` // root directory of the connection
}

// DatasourcesConfig maps connection names to their configuration.
type DatasourcesConfig map[string]StorageConfig
