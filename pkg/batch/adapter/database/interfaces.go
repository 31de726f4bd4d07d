// Package database defines the connection abstraction used by the run history store.
package database

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/config"
)

// ConnectionHistory is the connection name of the run history database.
const ConnectionHistory = "history"

// DBConnection represents an open database connection.
type DBConnection interface {
	// Name returns the logical connection name.
	Name() string
	// Type returns the database type (sqlite, mysql, postgres).
	Type() string
	// DB returns a gorm session bound to ctx.
	DB(ctx context.Context) *gorm.DB
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// Close closes the connection.
	Close() error
}

// DBProvider hands out named database connections built from configuration.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the type of resource handled by this provider.
	Type() string
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
}
