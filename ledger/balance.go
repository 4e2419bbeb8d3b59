// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// confirmedHeight returns the highest block height an on-chain entry may be
// confirmed at to have at least minConf confirmations. None means every
// entry counts.
func confirmedHeight(current, minConf int32) fn.Option[int32] {
	if minConf <= 0 {
		return fn.None[int32]()
	}

	return fn.Some(max(0, current-minConf+1))
}

// sumAt sums the wallet's entries selected by filter that have at least
// minConf confirmations relative to the stored chain height.
func sumAt(ctx context.Context, q Queries, walletID int64,
	filter AmountFilter, minConf int32) (btcutil.Amount, error) {

	query := SumQuery{
		WalletID: walletID,
		Filter:   filter,
	}
	if minConf > 0 {
		current, err := q.CurrentBlockHeight(ctx)
		if err != nil {
			return 0, err
		}
		query.MaxHeight = confirmedHeight(current, minConf)
	}

	return q.SumAmounts(ctx, query)
}

// readSum runs sumAt in its own read transaction.
func (l *Ledger) readSum(ctx context.Context, walletID int64,
	filter AmountFilter, minConf int32) (btcutil.Amount, error) {

	var sum btcutil.Amount
	err := l.store.ExecTx(ctx, true, func(q Queries) error {
		var err error
		sum, err = sumAt(ctx, q, walletID, filter, minConf)
		return err
	})
	if err != nil {
		return 0, storeError("unable to sum wallet entries", err)
	}

	return sum, nil
}

// Balance returns the wallet balance counting on-chain receipts with at
// least minConf confirmations. Off-chain entries always count.
func (l *Ledger) Balance(ctx context.Context, walletID int64,
	minConf int32) (btcutil.Amount, error) {

	return l.readSum(ctx, walletID, AllAmounts, minConf)
}

// Received returns the total credited to the wallet, counting on-chain
// receipts with at least minConf confirmations.
func (l *Ledger) Received(ctx context.Context, walletID int64,
	minConf int32) (btcutil.Amount, error) {

	return l.readSum(ctx, walletID, CreditsOnly, minConf)
}

// Sent returns the total debited from the wallet as a positive amount.
func (l *Ledger) Sent(ctx context.Context, walletID int64) (btcutil.Amount,
	error) {

	sum, err := l.readSum(ctx, walletID, DebitsOnly, 0)
	if err != nil {
		return 0, err
	}

	return -sum, nil
}
