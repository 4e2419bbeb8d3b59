// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	// Register the sqlite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

const (
	// sqliteOptionPrefix is the string prefix sqlite uses to set various
	// options. This is used in the following format:
	//   * sqliteOptionPrefix || option_name = option_value.
	sqliteOptionPrefix = "_pragma"

	// sqliteTxLockImmediate is a dsn option used to ensure that write
	// transactions are started immediately.
	sqliteTxLockImmediate = "_txlock=immediate"
)

// pragmaOption holds a key-value pair for a SQLite pragma setting.
type pragmaOption struct {
	name  string
	value string
}

// sqlitePragmas returns the pragma query options every connection is
// opened with.
func sqlitePragmas(busyTimeout time.Duration) url.Values {
	pragmaOptions := []pragmaOption{
		{
			name:  "foreign_keys",
			value: "on",
		},
		{
			name:  "journal_mode",
			value: "WAL",
		},
		{
			name:  "busy_timeout",
			value: fmt.Sprintf("%d", busyTimeout.Milliseconds()),
		},
		{
			name:  "synchronous",
			value: "full",
		},
	}

	options := make(url.Values)
	for _, option := range pragmaOptions {
		options.Add(
			sqliteOptionPrefix,
			fmt.Sprintf("%v=%v", option.name, option.value),
		)
	}

	return options
}

// sqliteDSN builds the modernc sqlite DSN for a database file.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?%s&%s", path,
		sqlitePragmas(busyTimeout).Encode(), sqliteTxLockImmediate)
}

// NewSqliteStore opens the sqlite database file named in cfg.
func NewSqliteStore(cfg *SqliteConfig) (*Store, error) {
	busyTimeout := cfg.BusyTimeout
	if busyTimeout == 0 {
		busyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg.Path, busyTimeout))
	if err != nil {
		return nil, err
	}

	maxConns := defaultMaxConns
	if cfg.MaxConnections > 0 {
		maxConns = cfg.MaxConnections
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	log.Infof("Using sqlite database %v", cfg.Path)

	return NewStore(db, BackendSqlite), nil
}
