// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

package ledgerdb

import (
	"testing"

	"github.com/btcsuite/btcledger/internal/sqltest"
)

// NewTestStore returns a migrated store on a fresh postgres database inside
// the shared test container.
func NewTestStore(t testing.TB) *Store {
	return NewTestStoreFromDB(t, sqltest.NewPostgresDB(t), BackendPostgres)
}
