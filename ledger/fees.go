// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"github.com/btcsuite/btcd/btcutil"
)

// FeeDescription is the description of the fee entries charged to the
// wallets paying into a broadcast batch.
const FeeDescription = "Fee from sent Bitcoins"

// apportionFee splits a non-negative fee between payers. Each payer in turn
// is charged the remaining fee divided by the remaining payers, rounded half
// up to the satoshi, and the last payer takes what is left, so the shares
// always add up to fee.
func apportionFee(fee btcutil.Amount, payers int) []btcutil.Amount {
	if payers <= 0 {
		return nil
	}

	shares := make([]btcutil.Amount, payers)
	left := fee
	for i := 0; i < payers-1; i++ {
		remaining := btcutil.Amount(payers - i)
		share := (2*left + remaining) / (2 * remaining)
		shares[i] = share
		left -= share
	}
	shares[payers-1] = left

	return shares
}

// feePayers returns the distinct wallets of debits in order of their first
// debit.
func feePayers(debits []Transaction) []int64 {
	var (
		payers []int64
		seen   = make(map[int64]struct{})
	)
	for _, d := range debits {
		if _, ok := seen[d.WalletID]; ok {
			continue
		}
		seen[d.WalletID] = struct{}{}
		payers = append(payers, d.WalletID)
	}

	return payers
}
