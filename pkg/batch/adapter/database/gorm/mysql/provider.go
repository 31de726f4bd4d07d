// Package mysql registers the MySQL dialector with the gorm adapter.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds a go-sql-driver DSN. parseTime is required for DATETIME columns.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
