// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DBTX is the set of database operations shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string,
		args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string,
		args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string,
		args ...interface{}) *sql.Row
}

// Queries implements ledger.Queries on top of a single database
// transaction.
type Queries struct {
	db      DBTX
	backend BackendType
}

// A compile-time assertion to make sure Queries implements ledger.Queries.
var _ ledger.Queries = (*Queries)(nil)

func newQueries(db DBTX, backend BackendType) *Queries {
	return &Queries{db: db, backend: backend}
}

// mapQueryErr converts a driver error into the store sentinel errors.
func mapQueryErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}

	return MapSQLError(err)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const walletColumns = `id, path, internal`

func scanWallet(row rowScanner) (*ledger.Wallet, error) {
	var (
		w    ledger.Wallet
		path string
	)
	if err := row.Scan(&w.ID, &path, &w.Internal); err != nil {
		return nil, err
	}

	p, err := ledger.ParsePath(path)
	if err != nil {
		return nil, fmt.Errorf("wallet %d: %w", w.ID, err)
	}
	w.Path = p

	return &w, nil
}

// GetOrCreateWallet returns the wallet with the given path, creating it
// with the internal flag if it does not exist yet.
func (q *Queries) GetOrCreateWallet(ctx context.Context, path ledger.Path,
	internal bool) (*ledger.Wallet, error) {

	w, err := scanWallet(q.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE path = $1`,
		path.String(),
	))
	err = mapQueryErr(err)
	switch {
	case err == nil:
		return w, nil
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}

	w, err = scanWallet(q.db.QueryRowContext(ctx,
		`INSERT INTO wallets (path, internal) VALUES ($1, $2)
		RETURNING `+walletColumns,
		path.String(), internal,
	))

	return w, mapQueryErr(err)
}

// GetWallet returns the wallet with the given ID or ErrNotFound.
func (q *Queries) GetWallet(ctx context.Context, id int64) (*ledger.Wallet,
	error) {

	w, err := scanWallet(q.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id,
	))

	return w, mapQueryErr(err)
}

// LockWallet takes a row lock on the wallet on postgres. On sqlite the
// immediate write transaction already excludes other writers, so only the
// existence of the wallet is checked.
func (q *Queries) LockWallet(ctx context.Context, id int64) error {
	query := `SELECT id FROM wallets WHERE id = $1`
	if q.backend == BackendPostgres {
		query += ` FOR UPDATE`
	}

	var locked int64
	err := q.db.QueryRowContext(ctx, query, id).Scan(&locked)

	return mapQueryErr(err)
}

const addressColumns = `id, wallet_id, subpath, address`

func scanAddress(row rowScanner) (*ledger.Address, error) {
	var (
		a       ledger.Address
		subpath int64
	)
	err := row.Scan(&a.ID, &a.WalletID, &subpath, &a.Address)
	if err != nil {
		return nil, err
	}
	a.Subpath = uint32(subpath)

	return &a, nil
}

// CreateAddress inserts an address.
func (q *Queries) CreateAddress(ctx context.Context,
	params ledger.CreateAddressParams) (*ledger.Address, error) {

	a, err := scanAddress(q.db.QueryRowContext(ctx,
		`INSERT INTO addresses (wallet_id, subpath, address)
		VALUES ($1, $2, $3)
		RETURNING `+addressColumns,
		params.WalletID, int64(params.Subpath), params.Address,
	))

	return a, mapQueryErr(err)
}

// LatestAddress returns the wallet's address with the highest subpath.
func (q *Queries) LatestAddress(ctx context.Context, walletID int64) (
	*ledger.Address, error) {

	a, err := scanAddress(q.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses
		WHERE wallet_id = $1
		ORDER BY subpath DESC
		LIMIT 1`,
		walletID,
	))

	return a, mapQueryErr(err)
}

// GetAddressBySubpath returns the wallet's address at subpath.
func (q *Queries) GetAddressBySubpath(ctx context.Context, walletID int64,
	subpath uint32) (*ledger.Address, error) {

	a, err := scanAddress(q.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses
		WHERE wallet_id = $1 AND subpath = $2`,
		walletID, int64(subpath),
	))

	return a, mapQueryErr(err)
}

// GetAddress returns the ledger address with the given encoding.
func (q *Queries) GetAddress(ctx context.Context, address string) (
	*ledger.Address, error) {

	a, err := scanAddress(q.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE address = $1`,
		address,
	))

	return a, mapQueryErr(err)
}

// ListAddresses returns every ledger address ordered by ID.
func (q *Queries) ListAddresses(ctx context.Context) ([]ledger.Address,
	error) {

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+addressColumns+` FROM addresses ORDER BY id`,
	)
	if err != nil {
		return nil, mapQueryErr(err)
	}
	defer rows.Close()

	var addrs []ledger.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, mapQueryErr(err)
		}
		addrs = append(addrs, *a)
	}

	return addrs, mapQueryErr(rows.Err())
}

// AddressHasChainReceipt reports whether any on-chain receipt was recorded
// for the address.
func (q *Queries) AddressHasChainReceipt(ctx context.Context,
	addressID int64) (bool, error) {

	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		WHERE receiving_address_id = $1 AND incoming_txid IS NOT NULL`,
		addressID,
	).Scan(&n)
	if err != nil {
		return false, mapQueryErr(err)
	}

	return n > 0, nil
}

// CurrentBlockHeight returns the last processed height, zero if the chain
// has never been reconciled.
func (q *Queries) CurrentBlockHeight(ctx context.Context) (int32, error) {
	var height int32
	err := q.db.QueryRowContext(ctx,
		`SELECT block_height FROM chain_state WHERE id = 1`,
	).Scan(&height)
	err = mapQueryErr(err)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0, nil
	}

	return height, err
}

// SetCurrentBlockHeight stores the last processed height.
func (q *Queries) SetCurrentBlockHeight(ctx context.Context,
	height int32) error {

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO chain_state (id, block_height) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET block_height = excluded.block_height`,
		height,
	)

	return mapQueryErr(err)
}

// nullTime converts an optional timestamp into its column value. Times are
// stored in UTC.
func nullTime(t fn.Option[time.Time]) sql.NullTime {
	return fn.MapOptionZ(t, func(t time.Time) sql.NullTime {
		return sql.NullTime{Time: t.UTC(), Valid: true}
	})
}

func optTime(t sql.NullTime) fn.Option[time.Time] {
	if !t.Valid {
		return fn.None[time.Time]()
	}
	return fn.Some(t.Time.UTC())
}

func nullInt64(v fn.Option[int64]) sql.NullInt64 {
	return fn.MapOptionZ(v, func(v int64) sql.NullInt64 {
		return sql.NullInt64{Int64: v, Valid: true}
	})
}

func optInt64(v sql.NullInt64) fn.Option[int64] {
	if !v.Valid {
		return fn.None[int64]()
	}
	return fn.Some(v.Int64)
}

func nullInt32(v fn.Option[int32]) sql.NullInt32 {
	return fn.MapOptionZ(v, func(v int32) sql.NullInt32 {
		return sql.NullInt32{Int32: v, Valid: true}
	})
}

func optInt32(v sql.NullInt32) fn.Option[int32] {
	if !v.Valid {
		return fn.None[int32]()
	}
	return fn.Some(v.Int32)
}

func nullHash(h fn.Option[chainhash.Hash]) sql.NullString {
	return fn.MapOptionZ(h, func(h chainhash.Hash) sql.NullString {
		return sql.NullString{String: h.String(), Valid: true}
	})
}

func optHash(s sql.NullString) (fn.Option[chainhash.Hash], error) {
	if !s.Valid {
		return fn.None[chainhash.Hash](), nil
	}

	h, err := chainhash.NewHashFromStr(s.String)
	if err != nil {
		return fn.None[chainhash.Hash](), err
	}

	return fn.Some(*h), nil
}
