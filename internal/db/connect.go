// Package db opens the Switchboard database and manages its schema.
package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector returns the gorm dialector for driver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}

// Config returns the gorm settings shared by every connection. Timestamps
// are written in UTC.
func Config() *gorm.Config {
	return &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Connect opens a gorm connection described by cfg.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, Config())
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		if err := prepareSQLite(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database with the schema
// migrated.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), Config())
	if err != nil {
		return nil, fmt.Errorf("db: open memory: %w", err)
	}
	if err := prepareSQLite(db); err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// prepareSQLite pins the pool to a single connection, which keeps an
// in-memory database alive and serializes writers, then enables foreign keys.
func prepareSQLite(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return fmt.Errorf("db: enable foreign keys: %w", err)
	}
	return nil
}

// likeEscaper escapes LIKE metacharacters with '!', which no dialect treats
// specially inside a string literal.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// ContainsInsensitive returns a WHERE fragment matching column against a
// case-insensitive substring, using ILIKE where the dialect has it. Bind it
// to ContainsPattern(term).
func ContainsInsensitive(db *gorm.DB, column string) string {
	if db.Dialector.Name() == "postgres" {
		return column + " ILIKE ? ESCAPE '!'"
	}
	return "LOWER(" + column + ") LIKE LOWER(?) ESCAPE '!'"
}

// ContainsPattern returns the LIKE pattern matching term literally anywhere
// in a value.
func ContainsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
