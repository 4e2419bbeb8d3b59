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
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"
)

// maxDecimals is the number of fractional digits of a bitcoin amount.
const maxDecimals = 8

// Target is the destination of a payment: a WalletTarget or an
// AddressTarget.
type Target interface {
	isTarget()
}

// WalletTarget pays another ledger wallet.
type WalletTarget struct {
	WalletID int64
}

func (WalletTarget) isTarget() {}

// AddressTarget pays an encoded Bitcoin address. Addresses that belong to a
// ledger wallet are settled off-chain.
type AddressTarget string

func (AddressTarget) isTarget() {}

// Payment is one destination of a SendTo call.
type Payment struct {
	Target Target
	Amount decimal.Decimal

	// Description is recorded on the credit of an internal recipient.
	Description string
}

// resolvedPayment is a validated payment.
type resolvedPayment struct {
	walletID fn.Option[int64]
	address  string
	amount   btcutil.Amount
	desc     string
}

// toSatoshi converts a positive BTC amount with at most eight decimals.
func toSatoshi(amount decimal.Decimal) (btcutil.Amount, error) {
	if !amount.IsPositive() {
		return 0, newError(ErrInvalidAmount,
			fmt.Sprintf("amount %v is not positive", amount), nil)
	}
	if !amount.Equal(amount.Truncate(maxDecimals)) {
		return 0, newError(ErrInvalidAmount,
			fmt.Sprintf("amount %v has more than %d decimal places",
				amount, maxDecimals), nil)
	}

	sat := amount.Shift(maxDecimals)
	if sat.GreaterThan(decimal.NewFromInt(btcutil.MaxSatoshi)) {
		return 0, newError(ErrInvalidAmount,
			fmt.Sprintf("amount %v exceeds the bitcoin supply",
				amount), nil)
	}

	return btcutil.Amount(sat.IntPart()), nil
}

// formatBTC renders an amount in BTC without trailing zeros.
func formatBTC(amount btcutil.Amount) string {
	return decimal.New(int64(amount), -maxDecimals).String()
}

// resolvePayments validates the amounts and targets of a SendTo call.
func (l *Ledger) resolvePayments(payments []Payment) ([]resolvedPayment,
	btcutil.Amount, error) {

	if len(payments) == 0 {
		return nil, 0, newError(ErrInvalidAmount, "no payments given",
			nil)
	}

	var (
		resolved = make([]resolvedPayment, 0, len(payments))
		total    btcutil.Amount
	)
	for i, p := range payments {
		amount, err := toSatoshi(p.Amount)
		if err != nil {
			return nil, 0, err
		}

		r := resolvedPayment{amount: amount, desc: p.Description}
		switch t := p.Target.(type) {
		case WalletTarget:
			r.walletID = fn.Some(t.WalletID)

		case AddressTarget:
			addr, err := btcutil.DecodeAddress(
				string(t), l.chainParams,
			)
			if err != nil {
				return nil, 0, newError(ErrInvalidTarget,
					fmt.Sprintf("payment %d: invalid "+
						"address %q", i, string(t)), err)
			}
			if !addr.IsForNet(l.chainParams) {
				return nil, 0, newError(ErrInvalidTarget,
					fmt.Sprintf("payment %d: address %q "+
						"is not for %v", i, string(t),
						l.chainParams.Name), nil)
			}
			r.address = addr.EncodeAddress()

		default:
			return nil, 0, newError(ErrInvalidTarget,
				fmt.Sprintf("payment %d: no target", i), nil)
		}

		total += amount
		resolved = append(resolved, r)
	}

	if total > btcutil.MaxSatoshi {
		return nil, 0, newError(ErrInvalidAmount,
			"total exceeds the bitcoin supply", nil)
	}

	return resolved, total, nil
}

// checkBalance returns the wallet balance at minConf if it covers total.
func checkBalance(ctx context.Context, q Queries, walletID int64,
	minConf int32, total btcutil.Amount) fn.Result[btcutil.Amount] {

	balance, err := sumAt(ctx, q, walletID, AllAmounts, minConf)
	if err != nil {
		return fn.Err[btcutil.Amount](err)
	}
	if balance < total {
		return fn.Err[btcutil.Amount](newError(ErrInsufficientBalance,
			fmt.Sprintf("wallet %d has %v at %d confirmations, "+
				"%v needed", walletID, balance, minConf, total),
			nil))
	}

	return fn.Ok(balance)
}

// SendTo debits total of payments from the wallet and settles each payment:
// ledger wallets and ledger addresses are credited at once, external
// addresses are added as outputs to the open outgoing batch. The balance
// check and every write happen in one store transaction, so either the
// whole transfer is recorded or nothing is. The debit entry is returned.
func (l *Ledger) SendTo(ctx context.Context, walletID int64,
	payments []Payment, minConf int32,
	description string) (*Transaction, error) {

	resolved, total, err := l.resolvePayments(payments)
	if err != nil {
		return nil, err
	}

	breakdown := make([]SendingAddress, len(resolved))
	for i, r := range resolved {
		breakdown[i] = SendingAddress{
			Amount:  formatBTC(r.amount),
			Address: r.address,
		}
	}

	var debit *Transaction
	err = l.store.ExecTx(ctx, false, func(q Queries) error {
		err := q.LockWallet(ctx, walletID)
		if errors.Is(err, ErrNotFound) {
			return newError(ErrWalletNotFound,
				fmt.Sprintf("wallet %d not found", walletID),
				nil)
		}
		if err != nil {
			return err
		}

		// An insufficient balance ends the unit of work here and
		// rolls it back.
		res := checkBalance(ctx, q, walletID, minConf, total)
		if _, err := res.Unpack(); err != nil {
			return err
		}

		now := l.now()
		debit, err = q.CreateTransaction(ctx, CreateTransactionParams{
			WalletID:         walletID,
			Amount:           -total,
			Description:      description,
			CreatedAt:        now,
			SendingAddresses: breakdown,
		})
		if err != nil {
			return err
		}

		var batch *OutgoingTx
		for _, r := range resolved {
			recipient := r.walletID
			var receivingAddr fn.Option[int64]

			if r.address != "" {
				addr, err := q.GetAddress(ctx, r.address)
				switch {
				case err == nil:
					recipient = fn.Some(addr.WalletID)
					receivingAddr = fn.Some(addr.ID)

				case !errors.Is(err, ErrNotFound):
					return err
				}
			}

			if recipient.IsSome() {
				id := recipient.UnwrapOr(0)
				if _, err := q.GetWallet(ctx, id); err != nil {
					if errors.Is(err, ErrNotFound) {
						return newError(ErrInvalidTarget,
							fmt.Sprintf("wallet %d "+
								"not found", id), nil)
					}
					return err
				}

				_, err := q.CreateTransaction(ctx,
					CreateTransactionParams{
						WalletID:         id,
						Amount:           r.amount,
						Description:      r.desc,
						CreatedAt:        now,
						ReceivingAddress: receivingAddr,
					})
				if err != nil {
					return err
				}
				continue
			}

			if batch == nil {
				batch, err = openBatch(ctx, q, now)
				if err != nil {
					return err
				}
				err = q.SetOutgoingTx(ctx, debit.ID, batch.ID)
				if err != nil {
					return err
				}
				debit.OutgoingTxID = fn.Some(batch.ID)
			}

			_, err := q.AddOutput(ctx, batch.ID, r.address, r.amount)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, storeError("unable to send", err)
	}

	log.Debugf("Wallet %d sent %v to %d %s", walletID, total,
		len(resolved), pickNoun(len(resolved), "target", "targets"))

	return debit, nil
}

// openBatch returns the oldest outgoing batch that still accepts outputs,
// creating one if there is none.
func openBatch(ctx context.Context, q Queries, now time.Time) (*OutgoingTx,
	error) {

	batch, err := q.OldestOpenOutgoingTx(ctx)
	if errors.Is(err, ErrNotFound) {
		return q.CreateOutgoingTx(ctx, now)
	}

	return batch, err
}
