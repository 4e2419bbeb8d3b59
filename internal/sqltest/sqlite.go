// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sqltest

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// sqlitePragmas mirror the settings of the ledger's production sqlite
// connections so tests see the same locking and constraint behavior.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(10000)",
	"synchronous(FULL)",
}

func init() {
	registerBackend("sqlite", NewSQLiteDB)
}

// sqliteDSN returns the modernc DSN of the database file at path. Write
// transactions take the database lock when they begin.
func sqliteDSN(path string) string {
	var dsn strings.Builder
	dsn.WriteString("file:" + path + "?_txlock=immediate")
	for _, pragma := range sqlitePragmas {
		dsn.WriteString("&_pragma=" + pragma)
	}
	return dsn.String()
}

// NewSQLiteDB opens a fresh SQLite database file in the test's temporary
// directory, which the testing package removes afterwards.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(
		t.TempDir(), "ledger_"+deterministicTestID(t)+".sqlite",
	)

	db, err := sql.Open("sqlite", sqliteDSN(path))
	require.NoError(t, err, "failed to open SQLite database")
	require.NoError(t, db.Ping(), "failed to ping SQLite database")

	t.Cleanup(func() {
		assert.NoError(t, db.Close(), "failed to close SQLite database")
	})

	return db
}
