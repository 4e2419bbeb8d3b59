// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	postgresImage   = "postgres:16-alpine"
	postgresStartup = 2 * time.Minute
	postgresMaxConn = 5
)

func init() {
	registerBackend("postgres", NewPostgresDB)
}

// pgServer is the postgres container shared by every test of the binary.
// Each test gets its own database on it.
type pgServer struct {
	container *postgres.PostgresContainer
	dsn       *url.URL
	admin     *sql.DB
}

var (
	pgOnce   sync.Once
	pgShared *pgServer
	pgErr    error
)

// startPostgres launches the container and opens the admin pool used to
// create and drop the per-test databases. Neither is closed; testcontainers
// reaps the container when the test binary exits.
func startPostgres() (*pgServer, error) {
	ctx, cancel := context.WithTimeout(
		context.Background(), postgresStartup,
	)
	defer cancel()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("btcledger"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	rawDSN, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("connection string: %w", err)
	}
	dsn, err := url.Parse(rawDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	admin, err := sql.Open("pgx", rawDSN)
	if err != nil {
		return nil, err
	}
	admin.SetMaxOpenConns(postgresMaxConn)
	if err := admin.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping admin database: %w", err)
	}

	return &pgServer{container: container, dsn: dsn, admin: admin}, nil
}

// databaseDSN returns the server DSN pointing at database name.
func (s *pgServer) databaseDSN(name string) string {
	dsn := *s.dsn
	dsn.Path = "/" + name
	return dsn.String()
}

// NewPostgresDB creates a fresh database named after the test inside the
// shared postgres container and returns a connection to it. The database is
// dropped when the test ends.
func NewPostgresDB(t testing.TB) *sql.DB {
	t.Helper()

	pgOnce.Do(func() {
		pgShared, pgErr = startPostgres()
	})
	require.NoError(t, pgErr, "postgres container unavailable")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	name := "btcledger_test_" + deterministicTestID(t)
	_, err := pgShared.admin.ExecContext(
		ctx, "CREATE DATABASE "+name,
	)
	require.NoError(t, err, "failed to create test database")

	db, err := sql.Open("pgx", pgShared.databaseDSN(name))
	require.NoError(t, err, "failed to open test database")
	db.SetMaxOpenConns(postgresMaxConn)
	db.SetMaxIdleConns(postgresMaxConn)
	db.SetConnMaxLifetime(5 * time.Minute)

	t.Cleanup(func() {
		_ = db.Close()

		ctx, cancel := context.WithTimeout(
			context.Background(), 30*time.Second,
		)
		defer cancel()

		_, err := pgShared.admin.ExecContext(ctx,
			"DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
		if err != nil {
			t.Logf("unable to drop %s: %v", name, err)
		}
	})

	return db
}
