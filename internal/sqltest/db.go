// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sqltest

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"testing"
)

// DBFactory is a function type that creates a new database connection for
// testing purposes. It takes a testing.TB interface to allow for test failure
// when cannot create the database connection, add cleanup logic and create a
// unique and isolated database for each test case.
type DBFactory func(t testing.TB) *sql.DB

// DBTestFunc is a function type that defines the signature for database test
// functions that will be run against different database implementations. The
// backend is the name of the engine behind the factory, "sqlite" or
// "postgres".
type DBTestFunc func(t *testing.T, backend string, dbFactory DBFactory)

// backendFactory pairs an engine name with its factory.
type backendFactory struct {
	name      string
	dbFactory DBFactory
}

// backends holds the database engines available to this test binary.
// SQLite is always present, Postgres is added by the integration_test build.
var backends []backendFactory

func registerBackend(name string, dbFactory DBFactory) {
	backends = append(backends, backendFactory{
		name:      name,
		dbFactory: dbFactory,
	})
}

// RunDatabaseTest runs the same test function against every registered
// database engine. It creates a new database connection for each test case,
// ensuring that tests are isolated and can run in parallel.
func RunDatabaseTest(t *testing.T, testFunc DBTestFunc) {
	t.Helper()

	for _, tc := range backends {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			testFunc(t, tc.name, tc.dbFactory)
		})
	}
}

// deterministicTestID names the database of a test after a hash of the test
// name. Postgres truncates identifiers at 63 bytes and subtest names easily
// exceed that, while a stable name keeps go test caching usable.
func deterministicTestID(t testing.TB) string {
	t.Helper()

	h := fnv.New32a()
	_, _ = h.Write([]byte(t.Name()))

	return fmt.Sprintf("%08x", h.Sum32())
}
