// Package database provides database initialization and the gorm-backed
// cursor store.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/konstpic/marznode-stats/database/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var db *gorm.DB

func initModels() error {
	models := []any{
		&model.TailCursor{},
		&model.UserTraffics{},
	}
	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto migrate %T: %w", m, err)
		}
	}
	return nil
}

// InitDB opens the database of the given type ("sqlite" or "postgres") and
// migrates the schema.
func InitDB(dbType, dsn string, debug bool) error {
	var dialector gorm.Dialector
	switch dbType {
	case "", "sqlite":
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database type %q", dbType)
	}

	var logger gormLogger.Interface
	if debug {
		logger = gormLogger.Default
	} else {
		logger = gormLogger.Discard
	}

	var err error
	db, err = gorm.Open(dialector, &gorm.Config{Logger: logger})
	if err != nil {
		return err
	}

	return initModels()
}

// CloseDB closes the database connection if it exists.
func CloseDB() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB returns the global GORM database instance.
func GetDB() *gorm.DB {
	return db
}
