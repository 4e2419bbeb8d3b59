// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcledger/chain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultRescanDepth is the number of already processed blocks that
	// are scanned again on every run to pick up reorganizations.
	DefaultRescanDepth = 6

	// ReceivedDescription is the description of credits created for
	// incoming payments.
	ReceivedDescription = "Received"
)

// Reconciler brings the ledger's on-chain receipts in line with the node.
type Reconciler struct {
	ledger      *Ledger
	rescanDepth int32
}

// NewReconciler creates a Reconciler that rescans the last rescanDepth
// processed blocks on every run.
func NewReconciler(l *Ledger, rescanDepth int32) *Reconciler {
	if rescanDepth < 0 {
		rescanDepth = DefaultRescanDepth
	}

	return &Reconciler{
		ledger:      l,
		rescanDepth: rescanDepth,
	}
}

// receiptKey identifies a payment to one address within a transaction.
type receiptKey struct {
	txid    chainhash.Hash
	address string
}

// receipt is a payment to a ledger candidate address, with the amounts of
// all its outputs summed.
type receipt struct {
	receiptKey
	amount       btcutil.Amount
	blockHash    fn.Option[chainhash.Hash]
	height       fn.Option[int32]
	timeReceived time.Time
}

// coalesceReceipts keeps the incoming payments of entries and merges the
// ones that pay the same address in the same transaction. The order of
// first appearance is kept.
func coalesceReceipts(entries []chain.Receipt) []*receipt {
	var (
		ordered []*receipt
		byKey   = make(map[receiptKey]*receipt)
	)
	for _, e := range entries {
		if e.Category != chain.CategoryReceive || e.Address == "" {
			continue
		}

		key := receiptKey{txid: e.TxID, address: e.Address}
		if r, ok := byKey[key]; ok {
			r.amount += e.Amount
			continue
		}

		r := &receipt{
			receiptKey:   key,
			amount:       e.Amount,
			blockHash:    e.BlockHash,
			timeReceived: e.TimeReceived,
		}
		byKey[key] = r
		ordered = append(ordered, r)
	}

	return ordered
}

// Run reconciles one window of the chain. It rescans from the processed
// height minus the rescan depth, records new receipts, updates heights
// that changed, deletes receipts that left the chain, and advances the
// processed height to the chain height read at the start. Running it again
// without new chain activity changes nothing.
func (r *Reconciler) Run(ctx context.Context) error {
	node := r.ledger.chain

	height, err := node.BlockCount(ctx)
	if err != nil {
		return chainError("unable to read block count", err)
	}

	var processed int32
	err = r.ledger.store.ExecTx(ctx, true, func(q Queries) error {
		var err error
		processed, err = q.CurrentBlockHeight(ctx)
		return err
	})
	if err != nil {
		return storeError("unable to read processed height", err)
	}

	// The chain may have become shorter than the processed height.
	since := max(0, min(processed, height)-r.rescanDepth)
	sinceHash, err := node.BlockHash(ctx, since)
	if err != nil {
		return chainError(
			fmt.Sprintf("unable to read block hash %d", since), err,
		)
	}

	entries, err := node.ListSinceBlock(ctx, sinceHash)
	if err != nil {
		return chainError("unable to list received payments", err)
	}

	receipts := coalesceReceipts(entries)
	if err := resolveHeights(ctx, node, receipts); err != nil {
		return err
	}

	var stats reconcileStats
	err = r.ledger.store.ExecTx(ctx, false, func(q Queries) error {
		stats = reconcileStats{}
		return r.apply(ctx, q, receipts, since, height, &stats)
	})
	if err != nil {
		return storeError("unable to reconcile receipts", err)
	}

	log.Infof("Reconciled blocks %d-%d: %d new, %d updated, %d removed "+
		"%s", since+1, height, stats.created, stats.updated,
		stats.deleted, pickNoun(stats.deleted, "receipt", "receipts"))

	return nil
}

// resolveHeights sets the height of every confirmed receipt, asking the
// node once per block.
func resolveHeights(ctx context.Context, node chain.Client,
	receipts []*receipt) error {

	heights := make(map[chainhash.Hash]int32)
	for _, rc := range receipts {
		if rc.blockHash.IsNone() {
			continue
		}

		hash := rc.blockHash.UnwrapOr(chainhash.Hash{})
		h, ok := heights[hash]
		if !ok {
			var err error
			h, err = node.BlockHeight(ctx, &hash)
			if err != nil {
				return chainError(fmt.Sprintf("unable to "+
					"read block %v", hash), err)
			}
			heights[hash] = h
		}
		rc.height = fn.Some(h)
	}

	return nil
}

// reconcileStats counts the changes of one run.
type reconcileStats struct {
	created, updated, deleted int
}

// entryKey identifies a ledger receipt by transaction and address row.
type entryKey struct {
	txid      chainhash.Hash
	addressID int64
}

// apply writes one reconciliation inside a store transaction.
func (r *Reconciler) apply(ctx context.Context, q Queries,
	receipts []*receipt, since, height int32,
	stats *reconcileStats) error {

	window, err := q.ListChainReceipts(ctx, since)
	if err != nil {
		return err
	}

	existing := make(map[entryKey]*Transaction, len(window))
	for i := range window {
		t := &window[i]
		key := entryKey{
			txid:      t.IncomingTxID.UnwrapOr(chainhash.Hash{}),
			addressID: t.ReceivingAddress.UnwrapOr(0),
		}
		existing[key] = t
	}
	seen := make(map[int64]struct{}, len(window))

	for _, rc := range receipts {
		addr, err := q.GetAddress(ctx, rc.address)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		// Change of our own batches returning to the hot wallet is
		// not a credit.
		ours, err := q.IsBroadcastTx(ctx, rc.txid)
		if err != nil {
			return err
		}
		if ours {
			continue
		}

		key := entryKey{txid: rc.txid, addressID: addr.ID}
		t, ok := existing[key]

		// A reorg deeper than the rescan window can move a receipt
		// recorded below it back into view.
		if !ok {
			t, err = q.GetChainReceipt(ctx, addr.ID, rc.txid)
			switch {
			case err == nil:
				ok = true

			case !errors.Is(err, ErrNotFound):
				return err
			}
		}
		if ok {
			if t.Amount != rc.amount {
				return newError(ErrReconciliationInconsistency,
					fmt.Sprintf("receipt %v to %v was "+
						"recorded as %v, node reports "+
						"%v", rc.txid, rc.address,
						t.Amount, rc.amount), nil)
			}

			if t.BlockHeight != rc.height {
				err := q.SetBlockHeight(ctx, t.ID, rc.height)
				if err != nil {
					return err
				}
				stats.updated++
			}
			seen[t.ID] = struct{}{}

			continue
		}

		createdAt := rc.timeReceived
		if createdAt.IsZero() {
			createdAt = r.ledger.now()
		}
		_, err = q.CreateTransaction(ctx, CreateTransactionParams{
			WalletID:         addr.WalletID,
			Amount:           rc.amount,
			Description:      ReceivedDescription,
			CreatedAt:        createdAt,
			ReceivingAddress: fn.Some(addr.ID),
			IncomingTxID:     fn.Some(rc.txid),
			BlockHeight:      rc.height,
		})
		if err != nil {
			return err
		}
		stats.created++
	}

	// Whatever the window held that the node no longer reports left the
	// chain.
	for _, t := range window {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		if err := q.DeleteTransaction(ctx, t.ID); err != nil {
			return err
		}
		stats.deleted++
	}

	return q.SetCurrentBlockHeight(ctx, height)
}
