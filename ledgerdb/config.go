// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb

import (
	"fmt"
	"net/url"
	"time"
)

const (
	// defaultMaxConns is the number of permitted active and idle
	// connections.
	defaultMaxConns = 25

	// defaultConnMaxLifetime is the maximum amount of time a connection
	// may be reused.
	defaultConnMaxLifetime = 10 * time.Minute

	// DefaultSqliteFilename is the file name of the sqlite database inside
	// the data directory.
	DefaultSqliteFilename = "ledger.db"
)

// BackendType is the database engine behind a Store.
type BackendType string

const (
	// BackendSqlite is an embedded sqlite database file.
	BackendSqlite BackendType = "sqlite"

	// BackendPostgres is a postgres server.
	BackendPostgres BackendType = "postgres"
)

// SqliteConfig holds all the config arguments needed to interact with our
// sqlite DB.
//
//nolint:ll
type SqliteConfig struct {
	Path           string        `long:"path" description:"Path of the sqlite database file."`
	BusyTimeout    time.Duration `long:"busytimeout" description:"The maximum amount of time to wait for the database lock."`
	MaxConnections int           `long:"maxconnections" description:"The maximum number of open connections to the database. Set to zero for unlimited."`
	SkipMigrations bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
}

// PostgresConfig holds the postgres database configuration.
//
//nolint:ll
type PostgresConfig struct {
	Dsn            string        `long:"dsn" description:"Database connection string."`
	Timeout        time.Duration `long:"timeout" description:"Database connection timeout. Set to zero to disable."`
	MaxConnections int           `long:"maxconnections" description:"The maximum number of open connections to the database. Set to zero for unlimited."`
	SkipMigrations bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
}

// Validate checks that the PostgresConfig values are valid.
func (p *PostgresConfig) Validate() error {
	if p.Dsn == "" {
		return fmt.Errorf("DSN is required")
	}

	_, err := url.Parse(p.Dsn)
	if err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}

	return nil
}

// Config selects and configures the ledger database backend.
//
//nolint:ll
type Config struct {
	Backend  string          `long:"backend" description:"The database backend to use." choice:"sqlite" choice:"postgres"`
	Sqlite   *SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres *PostgresConfig `group:"postgres" namespace:"postgres"`
}

// DefaultConfig returns a sqlite configuration storing the database at
// path.
func DefaultConfig(path string) *Config {
	return &Config{
		Backend: string(BackendSqlite),
		Sqlite: &SqliteConfig{
			Path:           path,
			BusyTimeout:    5 * time.Second,
			MaxConnections: defaultMaxConns,
		},
		Postgres: &PostgresConfig{
			Timeout:        10 * time.Second,
			MaxConnections: defaultMaxConns,
		},
	}
}

// Validate checks the selected backend's configuration.
func (c *Config) Validate() error {
	switch BackendType(c.Backend) {
	case BackendSqlite:
		if c.Sqlite == nil || c.Sqlite.Path == "" {
			return fmt.Errorf("sqlite database path is required")
		}
		return nil

	case BackendPostgres:
		if c.Postgres == nil {
			return fmt.Errorf("postgres configuration is required")
		}
		return c.Postgres.Validate()

	default:
		return fmt.Errorf("unknown database backend %q", c.Backend)
	}
}

// Open opens the configured backend and applies pending migrations unless
// they are skipped.
func Open(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store *Store
		skip  bool
		err   error
	)
	switch BackendType(cfg.Backend) {
	case BackendSqlite:
		store, err = NewSqliteStore(cfg.Sqlite)
		skip = cfg.Sqlite.SkipMigrations
	case BackendPostgres:
		store, err = NewPostgresStore(cfg.Postgres)
		skip = cfg.Postgres.SkipMigrations
	}
	if err != nil {
		return nil, err
	}

	if skip {
		log.Infof("Skipping database migrations")
		return store, nil
	}

	if err := store.ApplyMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("unable to apply migrations: %w", err)
	}

	return store, nil
}
