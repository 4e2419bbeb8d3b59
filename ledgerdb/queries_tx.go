// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const transactionColumns = `id, wallet_id, amount, description, created_at,
	receiving_address_id, sending_addresses, incoming_txid, block_height,
	outgoing_tx_id`

func scanTransaction(row rowScanner) (*ledger.Transaction, error) {
	var (
		t                ledger.Transaction
		amount           int64
		receivingAddress sql.NullInt64
		sendingAddresses sql.NullString
		incomingTxID     sql.NullString
		blockHeight      sql.NullInt32
		outgoingTxID     sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.WalletID, &amount, &t.Description, &t.CreatedAt,
		&receivingAddress, &sendingAddresses, &incomingTxID,
		&blockHeight, &outgoingTxID,
	)
	if err != nil {
		return nil, err
	}

	t.Amount = btcutil.Amount(amount)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ReceivingAddress = optInt64(receivingAddress)
	t.BlockHeight = optInt32(blockHeight)
	t.OutgoingTxID = optInt64(outgoingTxID)

	t.IncomingTxID, err = optHash(incomingTxID)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", t.ID, err)
	}

	if sendingAddresses.Valid {
		err := json.Unmarshal(
			[]byte(sendingAddresses.String), &t.SendingAddresses,
		)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: sending "+
				"addresses: %w", t.ID, err)
		}
	}

	return &t, nil
}

func scanTransactions(rows *sql.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapQueryErr(err)
		}
		txs = append(txs, *t)
	}

	return txs, mapQueryErr(rows.Err())
}

// CreateTransaction inserts a ledger entry.
func (q *Queries) CreateTransaction(ctx context.Context,
	params ledger.CreateTransactionParams) (*ledger.Transaction, error) {

	var sendingAddresses sql.NullString
	if len(params.SendingAddresses) > 0 {
		b, err := json.Marshal(params.SendingAddresses)
		if err != nil {
			return nil, err
		}
		sendingAddresses = sql.NullString{String: string(b), Valid: true}
	}

	var id int64
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO transactions (
			wallet_id, amount, description, created_at,
			receiving_address_id, sending_addresses, incoming_txid,
			block_height, outgoing_tx_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		params.WalletID, int64(params.Amount), params.Description,
		params.CreatedAt.UTC(), nullInt64(params.ReceivingAddress),
		sendingAddresses, nullHash(params.IncomingTxID),
		nullInt32(params.BlockHeight), nullInt64(params.OutgoingTxID),
	).Scan(&id)
	if err != nil {
		return nil, mapQueryErr(err)
	}

	return q.getTransaction(ctx, id)
}

func (q *Queries) getTransaction(ctx context.Context, id int64) (
	*ledger.Transaction, error) {

	t, err := scanTransaction(q.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`,
		id,
	))

	return t, mapQueryErr(err)
}

// SumAmounts returns the sum of the selected entries, zero if none.
func (q *Queries) SumAmounts(ctx context.Context,
	query ledger.SumQuery) (btcutil.Amount, error) {

	var (
		where = []string{"wallet_id = $1"}
		args  = []interface{}{query.WalletID}
	)

	switch query.Filter {
	case ledger.CreditsOnly:
		where = append(where, "amount > 0")
	case ledger.DebitsOnly:
		where = append(where, "amount < 0")
	}

	query.MaxHeight.WhenSome(func(maxHeight int32) {
		args = append(args, maxHeight)
		where = append(where,
			"(incoming_txid IS NULL OR block_height IS NOT NULL)",
			fmt.Sprintf("(block_height IS NULL OR "+
				"block_height <= $%d)", len(args)),
		)
	})

	var sum int64
	err := q.db.QueryRowContext(ctx,
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT)
		FROM transactions WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(&sum)
	if err != nil {
		return 0, mapQueryErr(err)
	}

	return btcutil.Amount(sum), nil
}

// SetOutgoingTx links a debit to the batch that pays it out.
func (q *Queries) SetOutgoingTx(ctx context.Context, txID,
	outgoingTxID int64) error {

	return q.execOne(ctx,
		`UPDATE transactions SET outgoing_tx_id = $1 WHERE id = $2`,
		outgoingTxID, txID,
	)
}

// ListBatchDebits returns the payment debits attached to a batch in ID
// order.
func (q *Queries) ListBatchDebits(ctx context.Context, outgoingTxID int64) (
	[]ledger.Transaction, error) {

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE outgoing_tx_id = $1 AND amount < 0
		ORDER BY id`,
		outgoingTxID,
	)
	if err != nil {
		return nil, mapQueryErr(err)
	}

	return scanTransactions(rows)
}

// ListChainReceipts returns on-chain entries that are unconfirmed or
// confirmed above the given height.
func (q *Queries) ListChainReceipts(ctx context.Context, aboveHeight int32) (
	[]ledger.Transaction, error) {

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE incoming_txid IS NOT NULL
		AND (block_height IS NULL OR block_height > $1)
		ORDER BY id`,
		aboveHeight,
	)
	if err != nil {
		return nil, mapQueryErr(err)
	}

	return scanTransactions(rows)
}

// GetChainReceipt returns the entry recording txid paying the address, or
// ErrNotFound.
func (q *Queries) GetChainReceipt(ctx context.Context, addressID int64,
	txid chainhash.Hash) (*ledger.Transaction, error) {

	t, err := scanTransaction(q.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE receiving_address_id = $1 AND incoming_txid = $2`,
		addressID, txid.String(),
	))

	return t, mapQueryErr(err)
}

// SetBlockHeight updates the confirmation height of an entry.
func (q *Queries) SetBlockHeight(ctx context.Context, txID int64,
	height fn.Option[int32]) error {

	return q.execOne(ctx,
		`UPDATE transactions SET block_height = $1 WHERE id = $2`,
		nullInt32(height), txID,
	)
}

// DeleteTransaction removes a ledger entry.
func (q *Queries) DeleteTransaction(ctx context.Context, txID int64) error {
	return q.execOne(ctx, `DELETE FROM transactions WHERE id = $1`, txID)
}

// execOne runs a statement that must affect exactly one row.
func (q *Queries) execOne(ctx context.Context, query string,
	args ...interface{}) error {

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapQueryErr(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return mapQueryErr(err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}

	return nil
}
