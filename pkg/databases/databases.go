// Package databases opens and pools the relational databases behind the
// session and results stores. SQLite, PostgreSQL and MySQL are supported
// through database/sql.
package databases

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialects accepted by Config.Driver.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Config selects and tunes one database.
type Config struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `yaml:"driver" mapstructure:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	MaxConns int `yaml:"max_conns" mapstructure:"max_conns"`
	MaxIdle  int `yaml:"max_idle" mapstructure:"max_idle"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DialectSQLite
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
}

// Validate rejects configurations Open cannot act on.
func (c Config) Validate() error {
	switch c.Driver {
	case DialectSQLite, DialectPostgres, DialectMySQL:
	default:
		return fmt.Errorf("unsupported driver: %s (supported: sqlite, postgres, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

// DriverName maps the config driver onto the registered sql driver name.
// The go-sqlite3 driver registers as "sqlite3".
func (c Config) DriverName() string {
	if c.Driver == DialectSQLite {
		return "sqlite3"
	}
	return c.Driver
}

// Open opens, tunes and pings the configured database.
func Open(cfg Config) (*sql.DB, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open(cfg.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time. A single connection serialises
	// access and prevents "database is locked" errors.
	if cfg.Driver == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
