// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"time"

	"github.com/btcsuite/btcledger/ledger"
)

const (
	// DefaultNumTxRetries is the default number of times we'll retry a
	// transaction if it fails with an error that permits transaction
	// repetition.
	DefaultNumTxRetries = 20

	// DefaultRetryDelay is the default delay between retries. This will be
	// used to generate a random delay between 0 and this value.
	DefaultRetryDelay = time.Millisecond * 50

	// DefaultMaxRetryDelay is the default maximum delay between retries.
	DefaultMaxRetryDelay = time.Second
)

// Store is a ledger.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	backend BackendType

	numRetries int
}

// A compile-time assertion to make sure Store implements ledger.Store.
var _ ledger.Store = (*Store)(nil)

// NewStore wraps an open database handle. The schema is not touched, call
// ApplyMigrations to create it.
func NewStore(db *sql.DB, backend BackendType) *Store {
	return &Store{
		db:         db,
		backend:    backend,
		numRetries: DefaultNumTxRetries,
	}
}

// Backend returns the database engine of the store.
func (s *Store) Backend() BackendType {
	return s.backend
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ExecTx runs txBody in a serializable database transaction, retrying the
// whole unit of work with a randomized backoff when the database reports a
// serialization failure.
func (s *Store) ExecTx(ctx context.Context, readOnly bool,
	txBody func(ledger.Queries) error) error {

	opts := &sql.TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  readOnly,
	}

	waitBeforeRetry := func(attempt int) bool {
		retryDelay := randRetryDelay(
			DefaultRetryDelay, DefaultMaxRetryDelay, attempt,
		)

		log.Tracef("Retrying transaction due to tx serialization "+
			"error, attempt_number=%v, delay=%v", attempt, retryDelay)

		select {
		case <-time.After(retryDelay):
			return true
		case <-ctx.Done():
			return false
		}
	}

	for i := 0; i < s.numRetries; i++ {
		err := s.execOnce(ctx, opts, txBody)
		if err == nil {
			return nil
		}

		if IsSerializationError(MapSQLError(err)) && waitBeforeRetry(i) {
			continue
		}

		return err
	}

	// If we get to this point, then we weren't able to successfully commit
	// a tx given the max number of retries.
	return ErrRetriesExceeded
}

// execOnce makes a single attempt at running txBody. The body's own error
// is returned unchanged so ledger error codes survive.
func (s *Store) execOnce(ctx context.Context, opts *sql.TxOptions,
	txBody func(ledger.Queries) error) error {

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return MapSQLError(err)
	}

	// Rollback is safe to call even if the tx is already closed, so if
	// the tx commits successfully, this is a no-op.
	defer func() {
		_ = tx.Rollback()
	}()

	if err := txBody(newQueries(tx, s.backend)); err != nil {
		log.Tracef("Error in txBody: %v", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Tracef("Failed to commit tx: %v", err)
		return MapSQLError(err)
	}

	return nil
}

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max
// value.
func randRetryDelay(initialRetryDelay, maxRetryDelay time.Duration,
	attempt int) time.Duration {

	halfDelay := initialRetryDelay / 2
	randDelay := rand.Int63n(int64(initialRetryDelay)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	initialDelay := halfDelay + time.Duration(randDelay)

	if attempt == 0 {
		return initialDelay
	}

	// For each subsequent delay, we double the initial delay. We limit
	// the power to 32 to avoid overflows.
	factor := time.Duration(math.Pow(2, min(float64(attempt), 32)))
	actualDelay := initialDelay * factor

	if actualDelay > maxRetryDelay {
		return maxRetryDelay
	}

	return actualDelay
}
