// Package gorm provides GORM-based database operations for caselink.
package gorm

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver selects the backing database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store represents the database connection.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Config holds database configuration.
type Config struct {
	Driver   Driver          // sqlite (default) or postgres
	Path     string          // Path to SQLite database file
	DSN      string          // Postgres DSN (Driver == postgres)
	MaxConns int             // Maximum number of open connections (default: 4)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database, runs migrations, and for SQLite enables WAL
// mode and a busy timeout so concurrent grouping workers retry instead of
// failing on a locked database.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var (
		db  *gorm.DB
		err error
	)

	gormCfg := &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	}

	switch cfg.Driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	case DriverSQLite:
		// Open the raw connection first (foreign keys enabled in DSN),
		// then wrap it with GORM.
		dsn := cfg.Path + "?_foreign_keys=ON"
		conn, openErr := sql.Open("sqlite3", dsn)
		if openErr != nil {
			return nil, fmt.Errorf("open database: %w", openErr)
		}
		db, err = gorm.Open(sqlite.Dialector{Conn: conn}, gormCfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open gorm: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := sqlDB.Exec("PRAGMA synchronous=NORMAL"); err != nil {
			return nil, fmt.Errorf("set synchronous mode: %w", err)
		}
		if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	return &Store{DB: db, sqlDB: sqlDB}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

// GetDB returns the GORM DB instance.
func (s *Store) GetDB() *gorm.DB {
	return s.DB
}
