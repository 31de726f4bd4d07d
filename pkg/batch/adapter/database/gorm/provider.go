// Package gorm opens gorm-backed database connections. Dialects register
// themselves from their own subpackages (sqlite, mysql, postgres).
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Provider implements database.DBProvider. Connections are opened lazily and cached by name.
type Provider struct {
	configs     map[string]dbconfig.DatabaseConfig
	connections map[string]database.DBConnection
	mu          sync.RWMutex
}

// NewProvider creates a Provider exposing the history connection of cfg.
func NewProvider(cfg *config.Config) *Provider {
	return NewProviderFromConfigs(map[string]dbconfig.DatabaseConfig{
		database.ConnectionHistory: dbconfig.FromHistory(cfg.PromptBatch.History),
	})
}

// NewProviderFromConfigs creates a Provider from explicit connection settings.
func NewProviderFromConfigs(configs map[string]dbconfig.DatabaseConfig) *Provider {
	return &Provider{
		configs:     configs,
		connections: make(map[string]database.DBConnection),
	}
}

// Type returns the resource type.
func (p *Provider) Type() string {
	return "database"
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *Provider) GetConnection(name string) (database.DBConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	dbConfig, ok := p.configs[name]
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found", name)
	}
	conn, err := Open(name, dbConfig)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, dbConfig.Type)
	return conn, nil
}

// ForceReconnect closes the named connection if open and establishes a new one.
func (p *Provider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.connections[name]; ok {
		if err := existing.Close(); err != nil {
			logger.Debugf("Closing connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	dbConfig, ok := p.configs[name]
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found", name)
	}
	conn, err := Open(name, dbConfig)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Re-established DB connection: %s (%s)", name, dbConfig.Type)
	return conn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			result = multierror.Append(result, err)
		}
		delete(p.connections, name)
	}
	return result
}

// Open establishes a gorm connection for dbConfig.
func Open(name string, dbConfig dbconfig.DatabaseConfig) (*Connection, error) {
	factory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to get dialector factory for %s: %w", dbConfig.Type, err)
	}
	dialector, err := factory(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}
	return OpenDialector(name, dbConfig, dialector)
}

// OpenDialector opens a connection over an already built dialector.
func OpenDialector(name string, dbConfig dbconfig.DatabaseConfig, dialector gorm.Dialector) (*Connection, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(string(config.LogLevelSilent)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	return &Connection{db: db, sqlDB: sqlDB, cfg: dbConfig, name: name}, nil
}

// Connection implements database.DBConnection on top of *gorm.DB.
type Connection struct {
	db    *gorm.DB
	sqlDB *sql.DB
	cfg   dbconfig.DatabaseConfig
	name  string
}

var _ database.DBConnection = (*Connection)(nil)

// Name returns the logical connection name.
func (c *Connection) Name() string { return c.name }

// Type returns the database type.
func (c *Connection) Type() string { return c.cfg.Type }

// Config returns the connection settings.
func (c *Connection) Config() dbconfig.DatabaseConfig { return c.cfg }

// DB returns a session bound to ctx.
func (c *Connection) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

// GetSQLDB returns the underlying *sql.DB.
func (c *Connection) GetSQLDB() (*sql.DB, error) {
	return c.sqlDB, nil
}

// IsTableNotExistError matches the missing-table messages of sqlite, mysql and postgres.
func (c *Connection) IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "doesn't exist") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}

// Close closes the underlying pool.
func (c *Connection) Close() error {
	return c.sqlDB.Close()
}

// NewGormLogger creates a gorm logger based on the configured log level.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch config.LogLevel(strings.ToUpper(level)) {
	case config.LogLevelError:
		gormLevel = gormlogger.Error
	case config.LogLevelWarn:
		gormLevel = gormlogger.Warn
	case config.LogLevelInfo, config.LogLevelDebug:
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}

	return gormlogger.New(
		&GormWriter{},
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects gorm output to the application logger.
type GormWriter struct{}

// Printf implements gormlogger.Writer. Statement traces go to DEBUG, the rest to INFO.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.Contains(msg, verb) {
			logger.Debugf("[GORM] %s", msg)
			return
		}
	}
	logger.Infof("[GORM] %s", msg)
}
