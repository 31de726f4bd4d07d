// Package migration applies the run history schema with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// HistoryMigrationsTable tracks applied history schema versions.
const HistoryMigrationsTable = "batch_history_migrations"

//go:embed resource
var rawMigrationFS embed.FS

// HistoryMigrationsFS returns the embedded migrations, one directory per database type.
func HistoryMigrationsFS() fs.FS {
	sub, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to create subdirectory for history migration FS: %v", err)
	}
	return sub
}

// Migrator handles database schema migrations. Running a migration closes the
// connection it was given; callers reconnect afterwards (DBProvider.ForceReconnect).
type Migrator interface {
	// Up applies all pending migrations found under path.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down rolls back all applied migrations.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
}

type migratorImpl struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a Migrator over dbConn.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{dbConn: dbConn, dbType: dbConn.Type()}
}

// MigrateHistory applies the embedded history schema for the connection's database type.
func MigrateHistory(ctx context.Context, dbConn database.DBConnection) error {
	return NewMigrator(dbConn).Up(ctx, HistoryMigrationsFS(), dbConn.Type(), HistoryMigrationsTable)
}

func (m *migratorImpl) getDatabaseDriver(sqlDB *sql.DB, tableName string) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string, tableName string) (*migrate.Migrate, error) {
	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	dbDriver, err := m.getDatabaseDriver(sqlDB, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

func (m *migratorImpl) run(ctx context.Context, migrationFS fs.FS, path, command, tableName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Infof("Executing migration '%s' (Path: %s, Table: %s)", command, path, tableName)

	mInstance, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := mInstance.Close(); srcErr != nil || dbErr != nil {
			logger.Debugf("Migration instance closed with source=%v database=%v", srcErr, dbErr)
		}
	}()

	var migrateErr error
	switch command {
	case "up":
		migrateErr = mInstance.Up()
	case "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed for command '%s' (DB: %s, Path: %s): %w", command, m.dbType, path, migrateErr)
	}
	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.run(ctx, migrationFS, path, "up", tableName)
}

func (m *migratorImpl) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.run(ctx, migrationFS, path, "down", tableName)
}
