// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcledger/ledger"
)

const outgoingColumns = `id, created_at, inputs_selected_at, sent_at,
	broadcast_txid`

func scanOutgoingTx(row rowScanner) (*ledger.OutgoingTx, error) {
	var (
		o                ledger.OutgoingTx
		inputsSelectedAt sql.NullTime
		sentAt           sql.NullTime
		broadcastTxID    sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.CreatedAt, &inputsSelectedAt, &sentAt,
		&broadcastTxID,
	)
	if err != nil {
		return nil, err
	}

	o.CreatedAt = o.CreatedAt.UTC()
	o.InputsSelectedAt = optTime(inputsSelectedAt)
	o.SentAt = optTime(sentAt)
	o.BroadcastTxID, err = optHash(broadcastTxID)
	if err != nil {
		return nil, fmt.Errorf("outgoing tx %d: %w", o.ID, err)
	}

	return &o, nil
}

// CreateOutgoingTx inserts an empty pending batch.
func (q *Queries) CreateOutgoingTx(ctx context.Context,
	createdAt time.Time) (*ledger.OutgoingTx, error) {

	var id int64
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO outgoing_txs (created_at) VALUES ($1) RETURNING id`,
		createdAt.UTC(),
	).Scan(&id)
	if err != nil {
		return nil, mapQueryErr(err)
	}

	return q.GetOutgoingTx(ctx, id)
}

// GetOutgoingTx returns the batch with the given ID.
func (q *Queries) GetOutgoingTx(ctx context.Context, id int64) (
	*ledger.OutgoingTx, error) {

	o, err := scanOutgoingTx(q.db.QueryRowContext(ctx,
		`SELECT `+outgoingColumns+` FROM outgoing_txs WHERE id = $1`,
		id,
	))

	return o, mapQueryErr(err)
}

// OldestOpenOutgoingTx returns the oldest pending batch.
func (q *Queries) OldestOpenOutgoingTx(ctx context.Context) (
	*ledger.OutgoingTx, error) {

	o, err := scanOutgoingTx(q.db.QueryRowContext(ctx,
		`SELECT `+outgoingColumns+` FROM outgoing_txs
		WHERE inputs_selected_at IS NULL AND sent_at IS NULL
		ORDER BY created_at, id
		LIMIT 1`,
	))

	return o, mapQueryErr(err)
}

// ListOutgoingTxs returns the batches in the given state in creation
// order.
func (q *Queries) ListOutgoingTxs(ctx context.Context,
	state ledger.OutgoingState) ([]ledger.OutgoingTx, error) {

	var where string
	switch state {
	case ledger.StatePending:
		where = `inputs_selected_at IS NULL AND sent_at IS NULL`
	case ledger.StateInputsSelected:
		where = `inputs_selected_at IS NOT NULL AND sent_at IS NULL`
	case ledger.StateSent:
		where = `sent_at IS NOT NULL`
	default:
		return nil, fmt.Errorf("unknown outgoing state %v", state)
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+outgoingColumns+` FROM outgoing_txs
		WHERE `+where+`
		ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, mapQueryErr(err)
	}
	defer rows.Close()

	var otxs []ledger.OutgoingTx
	for rows.Next() {
		o, err := scanOutgoingTx(rows)
		if err != nil {
			return nil, mapQueryErr(err)
		}
		otxs = append(otxs, *o)
	}

	return otxs, mapQueryErr(rows.Err())
}

// AddOutput appends an output to a batch.
func (q *Queries) AddOutput(ctx context.Context, outgoingTxID int64,
	address string, amount btcutil.Amount) (*ledger.Output, error) {

	out := ledger.Output{
		OutgoingTxID: outgoingTxID,
		Address:      address,
		Amount:       amount,
	}
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO outgoing_outputs (outgoing_tx_id, address, amount)
		VALUES ($1, $2, $3) RETURNING id`,
		outgoingTxID, address, int64(amount),
	).Scan(&out.ID)
	if err != nil {
		return nil, mapQueryErr(err)
	}

	return &out, nil
}

// AddressPaidByBatch reports whether any batch carries an output paying
// address.
func (q *Queries) AddressPaidByBatch(ctx context.Context,
	address string) (bool, error) {

	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outgoing_outputs WHERE address = $1`,
		address,
	).Scan(&n)
	if err != nil {
		return false, mapQueryErr(err)
	}

	return n > 0, nil
}

// ListOutputs returns the outputs of a batch in ID order.
func (q *Queries) ListOutputs(ctx context.Context, outgoingTxID int64) (
	[]ledger.Output, error) {

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, outgoing_tx_id, address, amount
		FROM outgoing_outputs
		WHERE outgoing_tx_id = $1
		ORDER BY id`,
		outgoingTxID,
	)
	if err != nil {
		return nil, mapQueryErr(err)
	}
	defer rows.Close()

	var outputs []ledger.Output
	for rows.Next() {
		var (
			out    ledger.Output
			amount int64
		)
		err := rows.Scan(
			&out.ID, &out.OutgoingTxID, &out.Address, &amount,
		)
		if err != nil {
			return nil, mapQueryErr(err)
		}
		out.Amount = btcutil.Amount(amount)
		outputs = append(outputs, out)
	}

	return outputs, mapQueryErr(rows.Err())
}

// AddInput assigns an unspent output to a batch.
func (q *Queries) AddInput(ctx context.Context, outgoingTxID int64,
	op wire.OutPoint, amount btcutil.Amount) (*ledger.Input, error) {

	in := ledger.Input{
		OutgoingTxID: outgoingTxID,
		OutPoint:     op,
		Amount:       amount,
	}
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO outgoing_inputs (
			outgoing_tx_id, bitcoin_txid, bitcoin_vout, amount
		) VALUES ($1, $2, $3, $4) RETURNING id`,
		outgoingTxID, op.Hash.String(), int64(op.Index), int64(amount),
	).Scan(&in.ID)
	if err != nil {
		return nil, mapQueryErr(err)
	}

	return &in, nil
}

// ListInputs returns the inputs of a batch in ID order.
func (q *Queries) ListInputs(ctx context.Context, outgoingTxID int64) (
	[]ledger.Input, error) {

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, outgoing_tx_id, bitcoin_txid, bitcoin_vout, amount
		FROM outgoing_inputs
		WHERE outgoing_tx_id = $1
		ORDER BY id`,
		outgoingTxID,
	)
	if err != nil {
		return nil, mapQueryErr(err)
	}
	defer rows.Close()

	var inputs []ledger.Input
	for rows.Next() {
		var (
			in           ledger.Input
			txid         string
			vout, amount int64
		)
		err := rows.Scan(&in.ID, &in.OutgoingTxID, &txid, &vout, &amount)
		if err != nil {
			return nil, mapQueryErr(err)
		}

		hash, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", in.ID, err)
		}
		in.OutPoint = wire.OutPoint{Hash: *hash, Index: uint32(vout)}
		in.Amount = btcutil.Amount(amount)
		inputs = append(inputs, in)
	}

	return inputs, mapQueryErr(rows.Err())
}

// InputExists reports whether the outpoint is assigned to any batch.
func (q *Queries) InputExists(ctx context.Context, op wire.OutPoint) (bool,
	error) {

	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outgoing_inputs
		WHERE bitcoin_txid = $1 AND bitcoin_vout = $2`,
		op.Hash.String(), int64(op.Index),
	).Scan(&n)
	if err != nil {
		return false, mapQueryErr(err)
	}

	return n > 0, nil
}

// MarkInputsSelected closes a pending batch.
func (q *Queries) MarkInputsSelected(ctx context.Context, outgoingTxID int64,
	at time.Time) error {

	return q.execOne(ctx,
		`UPDATE outgoing_txs SET inputs_selected_at = $1
		WHERE id = $2 AND inputs_selected_at IS NULL`,
		at.UTC(), outgoingTxID,
	)
}

// MarkSent records the broadcast of a batch. It returns false if the batch
// was already marked sent.
func (q *Queries) MarkSent(ctx context.Context, outgoingTxID int64,
	at time.Time, txid chainhash.Hash) (bool, error) {

	res, err := q.db.ExecContext(ctx,
		`UPDATE outgoing_txs SET sent_at = $1, broadcast_txid = $2
		WHERE id = $3 AND sent_at IS NULL`,
		at.UTC(), txid.String(), outgoingTxID,
	)
	if err != nil {
		return false, mapQueryErr(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, mapQueryErr(err)
	}

	return n > 0, nil
}

// IsBroadcastTx reports whether txid is the broadcast transaction of any
// batch.
func (q *Queries) IsBroadcastTx(ctx context.Context, txid chainhash.Hash) (
	bool, error) {

	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outgoing_txs WHERE broadcast_txid = $1`,
		txid.String(),
	).Scan(&n)
	if err != nil {
		return false, mapQueryErr(err)
	}

	return n > 0, nil
}
