package config

import (
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`     // Database type (e.g., "postgres", "mysql", "sqlite").
	DSN      string     `yaml:"dsn"`      // Full data source name; wins over the discrete fields.
	Host     string     `yaml:"host"`     // Database host address.
	Port     int        `yaml:"port"`     // Database port number.
	Database string     `yaml:"database"` // Database name, or file path for sqlite.
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Sslmode  string     `yaml:"sslmode"`
	Pool     PoolConfig `yaml:"pool"`
}

// FromHistory derives the connection settings of the run history store.
func FromHistory(h config.HistoryConfig) DatabaseConfig {
	c := DatabaseConfig{
		Type: h.Type,
		DSN:  h.DSN,
		Pool: PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetimeMinutes: 30},
	}
	if h.Type == config.HistorySQLite {
		c.Database = h.DSN
		// sqlite allows one writer at a time.
		c.Pool.MaxOpenConns = 1
		c.Pool.MaxIdleConns = 1
	}
	return c
}
