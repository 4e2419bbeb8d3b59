// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// The statements below are portable between SQLite and Postgres.
const (
	createAccountsSQL = `
		CREATE TABLE accounts (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			balance BIGINT NOT NULL
		)`
	insertAccountSQL = `
		INSERT INTO accounts (id, user_id, balance) VALUES ($1, $2, $3)`
	balanceSQL = `SELECT balance FROM accounts WHERE user_id = $1`
	totalSQL   = `SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM accounts`
)

func createAccounts(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(createAccountsSQL)
	require.NoError(t, err)
}

// TestFactoryIsolation checks that databases handed out to parallel tests do
// not share any state.
func TestFactoryIsolation(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, _ string, dbFactory DBFactory) {
		for i := range 3 {
			t.Run(fmt.Sprintf("db%d", i), func(t *testing.T) {
				t.Parallel()

				db := dbFactory(t)

				// Every database starts empty, so creating the
				// table cannot collide with a sibling test.
				createAccounts(t, db)

				for j := range i + 1 {
					_, err := db.Exec(insertAccountSQL, j,
						fmt.Sprintf("user%d", j), 1000)
					require.NoError(t, err)
				}

				var count, sum int64
				require.NoError(t, db.QueryRow(totalSQL).Scan(
					&count, &sum,
				))
				require.EqualValues(t, i+1, count)
				require.EqualValues(t, (i+1)*1000, sum)
			})
		}
	})
}

// TestFactoryTransactions checks that rolled back writes disappear and that
// unique constraints are enforced on every backend.
func TestFactoryTransactions(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, backend string,
		dbFactory DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		createAccounts(t, db)

		_, err := db.ExecContext(ctx, insertAccountSQL, 1, "alice", 500)
		require.NoError(t, err)

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		_, err = tx.ExecContext(
			ctx, `UPDATE accounts SET balance = 0 WHERE id = 1`,
		)
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		var balance int64
		require.NoError(t, db.QueryRowContext(
			ctx, balanceSQL, "alice",
		).Scan(&balance))
		require.EqualValues(t, 500, balance, backend)

		_, err = db.ExecContext(ctx, insertAccountSQL, 2, "alice", 1)
		require.Error(t, err, "duplicate user id on %s", backend)

		err = db.QueryRowContext(ctx, balanceSQL, "bob").Scan(&balance)
		require.ErrorIs(t, err, sql.ErrNoRows)
	})
}

// TestSQLiteConnectionSettings asserts that SQLite databases enforce foreign
// keys and run in WAL mode, both of which the ledger schema relies on.
func TestSQLiteConnectionSettings(t *testing.T) {
	db := NewSQLiteDB(t)

	_, err := db.Exec(`CREATE TABLE parent (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE child (
		id INTEGER PRIMARY KEY,
		parent_id BIGINT NOT NULL REFERENCES parent (id)
	)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO child (id, parent_id) VALUES (1, 42)`)
	require.Error(t, err, "orphan row must be rejected")

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	require.Equal(t, "wal", mode)

	var foreignKeys int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(
		&foreignKeys,
	))
	require.Equal(t, 1, foreignKeys)
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()

	require.Equal(t, "file:/tmp/l.db?_txlock=immediate"+
		"&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(10000)&_pragma=synchronous(FULL)",
		sqliteDSN("/tmp/l.db"))
}
