// Package sqlite registers the SQLite dialector with the gorm adapter.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		connStr := ConnectionString(cfg)
		if connStr == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(connStr), nil
	})
}

// ConnectionString returns the file path gorm's SQLite dialector expects.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return c.Database
}
