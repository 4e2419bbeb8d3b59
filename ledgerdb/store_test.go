// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgerdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcledger/internal/sqltest"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/btcsuite/btcledger/ledgerdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// runStoreTest runs testFunc against a migrated store on every available
// database engine.
func runStoreTest(t *testing.T,
	testFunc func(t *testing.T, store *ledgerdb.Store)) {

	sqltest.RunDatabaseTest(t, func(t *testing.T, backend string,
		dbFactory sqltest.DBFactory) {

		store := ledgerdb.NewTestStoreFromDB(
			t, dbFactory(t), ledgerdb.BackendType(backend),
		)
		testFunc(t, store)
	})
}

// write runs body in a write transaction and fails the test on error.
func write(t *testing.T, store *ledgerdb.Store,
	body func(q ledger.Queries) error) {

	t.Helper()
	require.NoError(t, store.ExecTx(context.Background(), false, body))
}

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestWallets(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store *ledgerdb.Store) {
		ctx := context.Background()

		var first, again *ledger.Wallet
		write(t, store, func(q ledger.Queries) error {
			var err error
			first, err = q.GetOrCreateWallet(
				ctx, ledger.Path{1, 2}, false,
			)
			if err != nil {
				return err
			}
			again, err = q.GetOrCreateWallet(
				ctx, ledger.Path{1, 2}, false,
			)
			return err
		})
		require.Equal(t, first, again)
		require.Equal(t, ledger.Path{1, 2}, first.Path)
		require.False(t, first.Internal)

		write(t, store, func(q ledger.Queries) error {
			w, err := q.GetOrCreateWallet(
				ctx, ledger.Path{0, 0}, true,
			)
			require.NoError(t, err)
			require.True(t, w.Internal)

			got, err := q.GetWallet(ctx, w.ID)
			require.NoError(t, err)
			require.Equal(t, w, got)

			require.NoError(t, q.LockWallet(ctx, w.ID))

			_, err = q.GetWallet(ctx, 999)
			require.ErrorIs(t, err, ledger.ErrNotFound)
			require.ErrorIs(t, q.LockWallet(ctx, 999),
				ledger.ErrNotFound)

			return nil
		})
	})
}

func TestAddresses(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store *ledgerdb.Store) {
		ctx := context.Background()

		var w *ledger.Wallet
		write(t, store, func(q ledger.Queries) error {
			var err error
			w, err = q.GetOrCreateWallet(ctx, ledger.Path{7}, false)
			if err != nil {
				return err
			}

			_, err = q.LatestAddress(ctx, w.ID)
			require.ErrorIs(t, err, ledger.ErrNotFound)

			for i, addr := range []string{"addr-0", "addr-1"} {
				_, err := q.CreateAddress(ctx,
					ledger.CreateAddressParams{
						WalletID: w.ID,
						Subpath:  uint32(i),
						Address:  addr,
					})
				require.NoError(t, err)
			}

			latest, err := q.LatestAddress(ctx, w.ID)
			require.NoError(t, err)
			require.Equal(t, uint32(1), latest.Subpath)
			require.Equal(t, "addr-1", latest.Address)

			bySubpath, err := q.GetAddressBySubpath(ctx, w.ID, 0)
			require.NoError(t, err)
			require.Equal(t, "addr-0", bySubpath.Address)

			byAddr, err := q.GetAddress(ctx, "addr-1")
			require.NoError(t, err)
			require.Equal(t, latest, byAddr)

			all, err := q.ListAddresses(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)

			has, err := q.AddressHasChainReceipt(ctx, latest.ID)
			require.NoError(t, err)
			require.False(t, has)

			_, err = q.CreateTransaction(ctx,
				ledger.CreateTransactionParams{
					WalletID:         w.ID,
					Amount:           1000,
					Description:      "Received",
					CreatedAt:        testTime,
					ReceivingAddress: fn.Some(latest.ID),
					IncomingTxID: fn.Some(
						hashFromByte(1),
					),
				})
			require.NoError(t, err)

			has, err = q.AddressHasChainReceipt(ctx, latest.ID)
			require.NoError(t, err)
			require.True(t, has)

			receipt, err := q.GetChainReceipt(
				ctx, latest.ID, hashFromByte(1),
			)
			require.NoError(t, err)
			require.Equal(t, btcutil.Amount(1000), receipt.Amount)

			_, err = q.GetChainReceipt(
				ctx, latest.ID, hashFromByte(2),
			)
			require.ErrorIs(t, err, ledger.ErrNotFound)

			paid, err := q.AddressPaidByBatch(ctx, "addr-0")
			require.NoError(t, err)
			require.False(t, paid)

			otx, err := q.CreateOutgoingTx(ctx, testTime)
			require.NoError(t, err)
			_, err = q.AddOutput(ctx, otx.ID, "addr-0", 5000)
			require.NoError(t, err)

			paid, err = q.AddressPaidByBatch(ctx, "addr-0")
			require.NoError(t, err)
			require.True(t, paid)

			return nil
		})

		// Reusing a subpath is rejected as a duplicate.
		err := store.ExecTx(ctx, false, func(q ledger.Queries) error {
			_, err := q.CreateAddress(ctx, ledger.CreateAddressParams{
				WalletID: w.ID,
				Subpath:  1,
				Address:  "addr-other",
			})
			return err
		})
		require.ErrorIs(t, err, ledger.ErrDuplicate)
	})
}

func TestTransactionsAndSums(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store *ledgerdb.Store) {
		ctx := context.Background()

		write(t, store, func(q ledger.Queries) error {
			w, err := q.GetOrCreateWallet(ctx, ledger.Path{1}, false)
			require.NoError(t, err)
			addr, err := q.CreateAddress(ctx,
				ledger.CreateAddressParams{
					WalletID: w.ID,
					Address:  "addr",
				})
			require.NoError(t, err)

			// A receipt confirmed at 100, an unconfirmed receipt,
			// an internal credit and an internal debit.
			confirmed, err := q.CreateTransaction(ctx,
				ledger.CreateTransactionParams{
					WalletID:         w.ID,
					Amount:           5000,
					Description:      "Received",
					CreatedAt:        testTime,
					ReceivingAddress: fn.Some(addr.ID),
					IncomingTxID: fn.Some(
						hashFromByte(1),
					),
					BlockHeight: fn.Some(int32(100)),
				})
			require.NoError(t, err)
			require.True(t, testTime.Equal(confirmed.CreatedAt))
			require.True(t, confirmed.OnChain())
			require.Equal(t, fn.Some(int32(100)),
				confirmed.BlockHeight)

			_, err = q.CreateTransaction(ctx,
				ledger.CreateTransactionParams{
					WalletID:         w.ID,
					Amount:           700,
					Description:      "Received",
					CreatedAt:        testTime,
					ReceivingAddress: fn.Some(addr.ID),
					IncomingTxID: fn.Some(
						hashFromByte(2),
					),
				})
			require.NoError(t, err)

			_, err = q.CreateTransaction(ctx,
				ledger.CreateTransactionParams{
					WalletID:    w.ID,
					Amount:      300,
					Description: "gift",
					CreatedAt:   testTime,
				})
			require.NoError(t, err)

			debit, err := q.CreateTransaction(ctx,
				ledger.CreateTransactionParams{
					WalletID:    w.ID,
					Amount:      -1000,
					Description: "payout",
					CreatedAt:   testTime,
					SendingAddresses: []ledger.SendingAddress{{
						Amount:  "0.00001",
						Address: "dest",
					}},
				})
			require.NoError(t, err)
			require.Equal(t, []ledger.SendingAddress{{
				Amount:  "0.00001",
				Address: "dest",
			}}, debit.SendingAddresses)

			sum := func(filter ledger.AmountFilter,
				maxHeight fn.Option[int32]) btcutil.Amount {

				s, err := q.SumAmounts(ctx, ledger.SumQuery{
					WalletID:  w.ID,
					Filter:    filter,
					MaxHeight: maxHeight,
				})
				require.NoError(t, err)
				return s
			}

			none := fn.None[int32]()
			require.EqualValues(t, 5000, sum(ledger.AllAmounts, none))
			require.EqualValues(t, 6000, sum(ledger.CreditsOnly, none))
			require.EqualValues(t, -1000, sum(ledger.DebitsOnly, none))

			// The unconfirmed receipt never counts once a
			// confirmation depth is requested.
			require.EqualValues(t, 4300,
				sum(ledger.AllAmounts, fn.Some(int32(100))))
			require.EqualValues(t, -700,
				sum(ledger.AllAmounts, fn.Some(int32(99))))

			// An unknown wallet sums to zero.
			s, err := q.SumAmounts(ctx, ledger.SumQuery{WalletID: 42})
			require.NoError(t, err)
			require.Zero(t, s)

			// Window listing and height updates.
			receipts, err := q.ListChainReceipts(ctx, 99)
			require.NoError(t, err)
			require.Len(t, receipts, 2)

			receipts, err = q.ListChainReceipts(ctx, 100)
			require.NoError(t, err)
			require.Len(t, receipts, 1)
			require.True(t, receipts[0].BlockHeight.IsNone())

			err = q.SetBlockHeight(ctx, receipts[0].ID,
				fn.Some(int32(101)))
			require.NoError(t, err)
			require.NoError(t, q.DeleteTransaction(ctx, confirmed.ID))
			require.ErrorIs(t, q.DeleteTransaction(ctx, confirmed.ID),
				ledger.ErrNotFound)

			require.EqualValues(t, 0,
				sum(ledger.AllAmounts, fn.Some(int32(101))))

			return nil
		})
	})
}

func TestDuplicateReceipt(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store *ledgerdb.Store) {
		ctx := context.Background()

		params := ledger.CreateTransactionParams{
			Amount:       1,
			Description:  "Received",
			CreatedAt:    testTime,
			IncomingTxID: fn.Some(hashFromByte(9)),
		}
		write(t, store, func(q ledger.Queries) error {
			w, err := q.GetOrCreateWallet(ctx, ledger.Path{1}, false)
			require.NoError(t, err)
			addr, err := q.CreateAddress(ctx,
				ledger.CreateAddressParams{
					WalletID: w.ID,
					Address:  "addr",
				})
			require.NoError(t, err)

			params.WalletID = w.ID
			params.ReceivingAddress = fn.Some(addr.ID)
			_, err = q.CreateTransaction(ctx, params)
			return err
		})

		err := store.ExecTx(ctx, false, func(q ledger.Queries) error {
			_, err := q.CreateTransaction(ctx, params)
			return err
		})
		require.ErrorIs(t, err, ledger.ErrDuplicate)
	})
}

func TestOutgoingLifecycle(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store *ledgerdb.Store) {
		ctx := context.Background()
		op := wire.OutPoint{Hash: hashFromByte(3), Index: 1}
		broadcast := hashFromByte(4)

		var otx *ledger.OutgoingTx
		write(t, store, func(q ledger.Queries) error {
			_, err := q.OldestOpenOutgoingTx(ctx)
			require.ErrorIs(t, err, ledger.ErrNotFound)

			otx, err = q.CreateOutgoingTx(ctx, testTime)
			require.NoError(t, err)
			require.Equal(t, ledger.StatePending, otx.State())

			open, err := q.OldestOpenOutgoingTx(ctx)
			require.NoError(t, err)
			require.Equal(t, otx.ID, open.ID)

			w, err := q.GetOrCreateWallet(ctx, ledger.Path{1}, false)
			require.NoError(t, err)
			debit, err := q.CreateTransaction(ctx,
				ledger.CreateTransactionParams{
					WalletID:    w.ID,
					Amount:      -2000,
					Description: "payout",
					CreatedAt:   testTime,
				})
			require.NoError(t, err)
			require.NoError(t, q.SetOutgoingTx(ctx, debit.ID, otx.ID))

			_, err = q.AddOutput(ctx, otx.ID, "dest", 2000)
			require.NoError(t, err)
			_, err = q.AddInput(ctx, otx.ID, op, 5000)
			require.NoError(t, err)

			debits, err := q.ListBatchDebits(ctx, otx.ID)
			require.NoError(t, err)
			require.Len(t, debits, 1)
			require.Equal(t, fn.Some(otx.ID), debits[0].OutgoingTxID)

			outputs, err := q.ListOutputs(ctx, otx.ID)
			require.NoError(t, err)
			require.Len(t, outputs, 1)
			require.EqualValues(t, 2000, outputs[0].Amount)

			inputs, err := q.ListInputs(ctx, otx.ID)
			require.NoError(t, err)
			require.Len(t, inputs, 1)
			require.Equal(t, op, inputs[0].OutPoint)

			exists, err := q.InputExists(ctx, op)
			require.NoError(t, err)
			require.True(t, exists)

			return q.MarkInputsSelected(ctx, otx.ID, testTime)
		})

		write(t, store, func(q ledger.Queries) error {
			_, err := q.OldestOpenOutgoingTx(ctx)
			require.ErrorIs(t, err, ledger.ErrNotFound)

			selected, err := q.ListOutgoingTxs(
				ctx, ledger.StateInputsSelected,
			)
			require.NoError(t, err)
			require.Len(t, selected, 1)

			sent, err := q.MarkSent(ctx, otx.ID, testTime, broadcast)
			require.NoError(t, err)
			require.True(t, sent)

			sent, err = q.MarkSent(ctx, otx.ID, testTime, broadcast)
			require.NoError(t, err)
			require.False(t, sent, "second mark must be a no-op")

			got, err := q.GetOutgoingTx(ctx, otx.ID)
			require.NoError(t, err)
			require.Equal(t, ledger.StateSent, got.State())

			_, err = q.GetOutgoingTx(ctx, otx.ID+100)
			require.ErrorIs(t, err, ledger.ErrNotFound)

			done, err := q.ListOutgoingTxs(ctx, ledger.StateSent)
			require.NoError(t, err)
			require.Len(t, done, 1)
			require.Equal(t, fn.Some(broadcast), done[0].BroadcastTxID)
			require.Equal(t, ledger.StateSent, done[0].State())

			ours, err := q.IsBroadcastTx(ctx, broadcast)
			require.NoError(t, err)
			require.True(t, ours)

			ours, err = q.IsBroadcastTx(ctx, hashFromByte(5))
			require.NoError(t, err)
			require.False(t, ours)

			return nil
		})

		// The same outpoint can never be assigned twice.
		err := store.ExecTx(ctx, false, func(q ledger.Queries) error {
			other, err := q.CreateOutgoingTx(ctx, testTime)
			require.NoError(t, err)
			_, err = q.AddInput(ctx, other.ID, op, 5000)
			return err
		})
		require.ErrorIs(t, err, ledger.ErrDuplicate)
	})
}

func TestChainState(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store *ledgerdb.Store) {
		ctx := context.Background()

		write(t, store, func(q ledger.Queries) error {
			h, err := q.CurrentBlockHeight(ctx)
			require.NoError(t, err)
			require.Zero(t, h)

			require.NoError(t, q.SetCurrentBlockHeight(ctx, 10))
			require.NoError(t, q.SetCurrentBlockHeight(ctx, 12))

			h, err = q.CurrentBlockHeight(ctx)
			require.NoError(t, err)
			require.EqualValues(t, 12, h)

			return nil
		})
	})
}

func TestExecTxRollback(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store *ledgerdb.Store) {
		ctx := context.Background()
		errAbort := errors.New("abort")

		var w *ledger.Wallet
		write(t, store, func(q ledger.Queries) error {
			var err error
			w, err = q.GetOrCreateWallet(ctx, ledger.Path{5}, false)
			return err
		})

		err := store.ExecTx(ctx, false, func(q ledger.Queries) error {
			_, err := q.CreateAddress(ctx, ledger.CreateAddressParams{
				WalletID: w.ID,
				Address:  "addr",
			})
			require.NoError(t, err)
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		err = store.ExecTx(ctx, true, func(q ledger.Queries) error {
			addrs, err := q.ListAddresses(ctx)
			require.NoError(t, err)
			require.Empty(t, addrs, "rolled back insert is visible")
			return nil
		})
		require.NoError(t, err)
	})
}
