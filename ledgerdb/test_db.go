// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestStoreFromDB wraps a test database handle and applies the ledger
// schema to it.
func NewTestStoreFromDB(t testing.TB, db *sql.DB,
	backend BackendType) *Store {

	t.Helper()

	store := NewStore(db, backend)
	require.NoError(t, store.ApplyMigrations())

	return store
}
