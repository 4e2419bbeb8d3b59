// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// chainEntry is the reconciled view of an on-chain ledger entry.
type chainEntry struct {
	id      int64
	wallet  int64
	amount  string
	txid    chainhash.Hash
	height  fn.Option[int32]
	address fn.Option[int64]
}

// chainEntries returns every on-chain ledger entry.
func (h *testHarness) chainEntries() []chainEntry {
	h.t.Helper()

	var entries []chainEntry
	h.read(func(q ledger.Queries) {
		txs, err := q.ListChainReceipts(h.ctx, 0)
		require.NoError(h.t, err)

		for _, tx := range txs {
			entries = append(entries, chainEntry{
				id:      tx.ID,
				wallet:  tx.WalletID,
				amount:  tx.Amount.String(),
				txid:    tx.IncomingTxID.UnwrapOr(chainhash.Hash{}),
				height:  tx.BlockHeight,
				address: tx.ReceivingAddress,
			})
		}
	})

	return entries
}

func (h *testHarness) processedHeight() int32 {
	h.t.Helper()

	var height int32
	h.read(func(q ledger.Queries) {
		var err error
		height, err = q.CurrentBlockHeight(h.ctx)
		require.NoError(h.t, err)
	})

	return height
}

// TestReconcileNewReceipts checks that payments to ledger addresses are
// credited once and that a second run changes nothing.
func TestReconcileNewReceipts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.mine(5)
	w := h.wallet(1)

	addr, err := h.ledger.UnusedAddress(h.ctx, w.ID)
	require.NoError(t, err)

	confirmed := h.chain.newTxID()
	h.chain.pay(confirmed, addr.Address, sat("0.3"), 3)
	unconfirmed := h.chain.newTxID()
	h.chain.pay(unconfirmed, addr.Address, sat("0.2"), 0)

	h.reconcile()
	require.Equal(t, int32(5), h.processedHeight())
	require.Equal(t, sat("0.5"), h.balance(w.ID, 0))
	require.Equal(t, sat("0.3"), h.balance(w.ID, 1))

	entries := h.chainEntries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, w.ID, e.wallet)
		require.Equal(t, fn.Some(addr.ID), e.address)

		switch e.txid {
		case confirmed:
			require.Equal(t, fn.Some(int32(3)), e.height)
		case unconfirmed:
			require.True(t, e.height.IsNone())
		default:
			t.Fatalf("unexpected receipt %v", e.txid)
		}
	}

	h.reconcile()
	require.Equal(t, entries, h.chainEntries())
	require.Equal(t, sat("0.5"), h.balance(w.ID, 0))

	// New blocks without activity only move the marker.
	h.chain.mine(20)
	h.reconcile()
	require.Equal(t, int32(25), h.processedHeight())
	require.Equal(t, entries, h.chainEntries())
}

// TestReconcileCoalesces checks that outputs paying the same address in one
// transaction are recorded as one credit.
func TestReconcileCoalesces(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.mine(2)
	w := h.wallet(1)

	addr, err := h.ledger.UnusedAddress(h.ctx, w.ID)
	require.NoError(t, err)

	txid := h.chain.newTxID()
	h.chain.pay(txid, addr.Address, sat("0.1"), 2)
	h.chain.pay(txid, addr.Address, sat("0.25"), 2)
	h.reconcile()

	entries := h.chainEntries()
	require.Len(t, entries, 1)
	require.Equal(t, sat("0.35").String(), entries[0].amount)

	h.reconcile()
	require.Equal(t, entries, h.chainEntries())
}

// TestReconcileSkipsForeign checks that payments to unknown addresses and
// the change of our own batches are not credited.
func TestReconcileSkipsForeign(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.mine(3)
	w := h.wallet(1)
	h.credit(w.ID, sat("1"))

	h.chain.pay(h.chain.newTxID(), externalAddress(t, 7), sat("2"), 2)

	h.sendExternal(w, 0, "0.5")
	h.chain.setUnspent(chainUnspent(1, sat("0.6"), 6))
	b := ledger.NewBatcher(h.ledger, staticFees{rate: rate(250)}, 1)
	require.NoError(t, b.AssignInputs(h.ctx))
	require.NoError(t, b.SendReady(h.ctx))

	sent, outputs, _ := h.batches(ledger.StateSent)
	require.Len(t, sent, 1)
	txid := sent[0].BroadcastTxID.UnwrapOr(chainhash.Hash{})
	change := outputs[sent[0].ID][1]

	h.chain.pay(txid, change.Address, change.Amount, 3)
	h.reconcile()

	require.Empty(t, h.chainEntries())

	changeWallet, err := h.ledger.InternalWallet(
		h.ctx, ledger.ChangeWalletIndex,
	)
	require.NoError(t, err)
	require.Zero(t, h.balance(changeWallet.ID, 0))
}

// TestReconcileHeightChanges checks that confirmation heights follow the
// node.
func TestReconcileHeightChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.mine(4)
	w := h.wallet(1)

	txid := h.receive(w.ID, sat("0.4"), 0)
	entries := h.chainEntries()
	require.Len(t, entries, 1)
	require.True(t, entries[0].height.IsNone())

	h.chain.mine(1)
	h.chain.confirm(txid, 5)
	h.reconcile()

	updated := h.chainEntries()
	require.Len(t, updated, 1)
	require.Equal(t, entries[0].id, updated[0].id)
	require.Equal(t, fn.Some(int32(5)), updated[0].height)
	require.Equal(t, sat("0.4"), h.balance(w.ID, 1))
}

// TestReconcileReorg checks that a receipt whose block left the chain is
// removed and recreated when it confirms again.
func TestReconcileReorg(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.mine(10)
	w := h.wallet(1)

	old := h.receive(w.ID, sat("1"), 2)
	addr, err := h.ledger.UnusedAddress(h.ctx, w.ID)
	require.NoError(t, err)
	txid := h.chain.newTxID()
	h.chain.pay(txid, addr.Address, sat("0.5"), 8)
	h.reconcile()
	require.Equal(t, sat("1.5"), h.balance(w.ID, 1))

	// Blocks 8 to 10 are replaced and the payment is gone.
	h.chain.reorg(8, 3)
	h.reconcile()
	require.Equal(t, sat("1"), h.balance(w.ID, 0))

	entries := h.chainEntries()
	require.Len(t, entries, 1)
	require.Equal(t, old, entries[0].txid)

	// It confirms again in the new chain.
	h.chain.pay(txid, addr.Address, sat("0.5"), 9)
	h.reconcile()
	require.Equal(t, sat("1.5"), h.balance(w.ID, 1))

	entries = h.chainEntries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		if e.txid == txid {
			require.Equal(t, fn.Some(int32(9)), e.height)
		}
	}
}

// TestReconcileDeepReorg checks that a receipt recorded below the rescan
// window is updated rather than recorded twice when a reorg deeper than the
// window confirms it in a new block.
func TestReconcileDeepReorg(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.mine(20)
	w := h.wallet(1)

	addr, err := h.ledger.UnusedAddress(h.ctx, w.ID)
	require.NoError(t, err)
	txid := h.chain.newTxID()
	h.chain.pay(txid, addr.Address, sat("0.7"), 5)
	h.reconcile()

	before := h.chainEntries()
	require.Len(t, before, 1)
	require.Equal(t, fn.Some(int32(5)), before[0].height)

	// Everything from block 4 on is replaced and the payment confirms
	// again at 18, inside the window of the next run.
	h.chain.reorg(4, 17)
	h.chain.pay(txid, addr.Address, sat("0.7"), 18)

	for range 2 {
		h.reconcile()

		after := h.chainEntries()
		require.Len(t, after, 1)
		require.Equal(t, before[0].id, after[0].id)
		require.Equal(t, fn.Some(int32(18)), after[0].height)
		require.Equal(t, sat("0.7"), h.balance(w.ID, 1))
	}
	require.Equal(t, int32(20), h.processedHeight())
}

// TestReconcileInconsistentAmount checks that a changed amount aborts the
// run without writing anything.
func TestReconcileInconsistentAmount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.mine(3)
	w := h.wallet(1)

	txid := h.receive(w.ID, sat("0.3"), 3)
	before := h.chainEntries()

	// A new payment in the same run is not recorded either.
	addr, err := h.ledger.UnusedAddress(h.ctx, w.ID)
	require.NoError(t, err)
	h.chain.pay(h.chain.newTxID(), addr.Address, sat("0.1"), 0)

	h.chain.mine(2)
	h.chain.setAmount(txid, sat("0.4"))

	err = ledger.NewReconciler(h.ledger, ledger.DefaultRescanDepth).Run(
		h.ctx,
	)
	require.True(t, ledger.IsError(
		err, ledger.ErrReconciliationInconsistency,
	), "unexpected error: %v", err)
	require.Equal(t, before, h.chainEntries())
	require.Equal(t, int32(3), h.processedHeight())
}
