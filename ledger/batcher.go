// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcledger/chain"
	"github.com/btcsuite/btcledger/pkg/unit"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// FeeEstimator supplies the fee rate used to fund outgoing batches.
type FeeEstimator interface {
	SatPerByte(ctx context.Context) unit.SatPerByte
}

// Batcher funds and broadcasts outgoing batches.
type Batcher struct {
	ledger  *Ledger
	fees    FeeEstimator
	minConf int32
}

// NewBatcher creates a Batcher spending hot wallet outputs with at least
// minConf confirmations.
func NewBatcher(l *Ledger, fees FeeEstimator, minConf int32) *Batcher {
	return &Batcher{
		ledger:  l,
		fees:    fees,
		minConf: minConf,
	}
}

// Run broadcasts the funded batches and then funds the pending ones.
func (b *Batcher) Run(ctx context.Context) error {
	sendErr := b.SendReady(ctx)
	assignErr := b.AssignInputs(ctx)

	return errors.Join(sendErr, assignErr)
}

// batchContents is a batch with its inputs, outputs and payment debits.
type batchContents struct {
	batch   OutgoingTx
	inputs  []Input
	outputs []Output
	debits  []Transaction
}

func (c *batchContents) inputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range c.inputs {
		total += in.Amount
	}
	return total
}

func (c *batchContents) outputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range c.outputs {
		total += out.Amount
	}
	return total
}

// loadBatches reads every batch in state with its contents.
func (b *Batcher) loadBatches(ctx context.Context,
	state OutgoingState) ([]batchContents, error) {

	var contents []batchContents
	err := b.ledger.store.ExecTx(ctx, true, func(q Queries) error {
		batches, err := q.ListOutgoingTxs(ctx, state)
		if err != nil {
			return err
		}

		contents = make([]batchContents, 0, len(batches))
		for _, batch := range batches {
			c := batchContents{batch: batch}

			c.inputs, err = q.ListInputs(ctx, batch.ID)
			if err != nil {
				return err
			}
			c.outputs, err = q.ListOutputs(ctx, batch.ID)
			if err != nil {
				return err
			}
			c.debits, err = q.ListBatchDebits(ctx, batch.ID)
			if err != nil {
				return err
			}

			contents = append(contents, c)
		}

		return nil
	})
	if err != nil {
		return nil, storeError(
			fmt.Sprintf("unable to load %v batches", state), err,
		)
	}

	return contents, nil
}

// SendReady signs and broadcasts every funded batch, then marks it sent
// and charges its fee to the wallets that paid into it. A batch the node
// cannot sign is reported and the others still go out.
func (b *Batcher) SendReady(ctx context.Context) error {
	batches, err := b.loadBatches(ctx, StateInputsSelected)
	if err != nil {
		return err
	}

	var errs []error
	for i := range batches {
		if err := b.sendBatch(ctx, &batches[i]); err != nil {
			log.Errorf("Unable to send batch %d: %v",
				batches[i].batch.ID, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (b *Batcher) sendBatch(ctx context.Context, c *batchContents) error {
	batchID := c.batch.ID

	fee := c.inputTotal() - c.outputTotal()
	if fee < 0 {
		return newError(ErrBatchInconsistency,
			fmt.Sprintf("batch %d outputs exceed inputs by %v",
				batchID, -fee), nil)
	}

	outpoints := make([]wire.OutPoint, len(c.inputs))
	for i, in := range c.inputs {
		outpoints[i] = in.OutPoint
	}
	amounts := make(map[string]btcutil.Amount, len(c.outputs))
	for _, out := range c.outputs {
		amounts[out.Address] += out.Amount
	}

	rawTx, err := b.ledger.chain.CreateRawTransaction(
		ctx, outpoints, amounts,
	)
	if err != nil {
		return chainError(
			fmt.Sprintf("unable to build batch %d", batchID), err,
		)
	}

	signed, err := b.ledger.chain.SignRawTransaction(ctx, rawTx)
	if err != nil {
		return chainError(
			fmt.Sprintf("unable to sign batch %d", batchID), err,
		)
	}
	if !signed.Complete {
		if len(signed.Errors) > 0 {
			return newError(ErrSigningIncomplete,
				fmt.Sprintf("batch %d: %v", batchID,
					signed.Errors), nil)
		}

		log.Warnf("Batch %d is not fully signed yet, skipping",
			batchID)
		return nil
	}

	txid, err := b.ledger.chain.SendRawTransaction(ctx, signed.Tx)
	switch {
	// The node already has it from an earlier run whose commit failed.
	case chain.IsAlreadyBroadcast(err):
		hash := signed.Tx.TxHash()
		txid = &hash
		log.Infof("Batch %d was already broadcast as %v", batchID,
			txid)

	case err != nil:
		return chainError(
			fmt.Sprintf("unable to broadcast batch %d", batchID),
			err,
		)
	}

	return b.markSent(ctx, c, *txid, fee)
}

// markSent records a broadcast batch and its fee entries.
func (b *Batcher) markSent(ctx context.Context, c *batchContents,
	txid chainhash.Hash, fee btcutil.Amount) error {

	batchID := c.batch.ID
	payers := feePayers(c.debits)
	if fee > 0 && len(payers) == 0 {
		return newError(ErrBatchInconsistency,
			fmt.Sprintf("batch %d has a fee of %v but no payers",
				batchID, fee), nil)
	}

	err := b.ledger.store.ExecTx(ctx, false, func(q Queries) error {
		now := b.ledger.now()

		marked, err := q.MarkSent(ctx, batchID, now, txid)
		if err != nil {
			return err
		}

		// A concurrent run recorded it first along with the fees.
		if !marked || fee == 0 {
			return nil
		}

		shares := apportionFee(fee, len(payers))
		for i, walletID := range payers {
			_, err := q.CreateTransaction(ctx,
				CreateTransactionParams{
					WalletID:     walletID,
					Amount:       -shares[i],
					Description:  FeeDescription,
					CreatedAt:    now,
					OutgoingTxID: fn.Some(batchID),
				})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return storeError(
			fmt.Sprintf("unable to mark batch %d sent", batchID), err,
		)
	}

	log.Infof("Sent batch %d as %v paying %d %s, fee %v", batchID, txid,
		len(c.outputs), pickNoun(len(c.outputs), "output", "outputs"),
		fee)

	return nil
}

// isDust reports whether a change output of amount would be dust at the
// default relay fee.
func isDust(amount btcutil.Amount) bool {
	out := wire.NewTxOut(
		int64(amount), make([]byte, txsizes.P2PKHPkScriptSize),
	)
	return txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb)
}

// candidatePool is the set of hot wallet outputs not yet assigned to any
// batch.
type candidatePool []chain.Unspent

// take removes and returns the candidate with the most confirmations. The
// first one encountered wins ties.
func (p *candidatePool) take() (chain.Unspent, bool) {
	best := -1
	for i, u := range *p {
		if best == -1 || u.Confirmations > (*p)[best].Confirmations {
			best = i
		}
	}
	if best == -1 {
		return chain.Unspent{}, false
	}

	u := (*p)[best]
	*p = append((*p)[:best], (*p)[best+1:]...)

	return u, true
}

// loadCandidates returns the spendable hot wallet outputs that are not
// inputs of any batch.
func (b *Batcher) loadCandidates(ctx context.Context) (candidatePool,
	error) {

	unspent, err := b.ledger.chain.ListUnspent(ctx, b.minConf)
	if err != nil {
		return nil, chainError("unable to list unspent outputs", err)
	}

	var pool candidatePool
	err = b.ledger.store.ExecTx(ctx, true, func(q Queries) error {
		pool = pool[:0]
		for _, u := range unspent {
			if !u.Spendable || u.Amount <= 0 {
				continue
			}

			assigned, err := q.InputExists(ctx, u.OutPoint)
			if err != nil {
				return err
			}
			if !assigned {
				pool = append(pool, u)
			}
		}

		return nil
	})
	if err != nil {
		return nil, storeError("unable to filter unspent outputs", err)
	}

	return pool, nil
}

// AssignInputs funds the pending batches in creation order from the hot
// wallet's unassigned outputs, preferring the most confirmed ones. If the
// outputs run out, the inputs picked for the batch at hand are kept and
// the run stops with an ErrInsufficientHotWalletFunds error. Losing an
// output to a concurrent run ends the run without error; the next run
// picks up where this one stopped.
//
// Positive change goes to a fresh address of the change wallet unless it
// is dust for a P2PKH output at the default relay fee, in which case it is
// left to the fee.
func (b *Batcher) AssignInputs(ctx context.Context) error {
	batches, err := b.loadBatches(ctx, StatePending)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	pool, err := b.loadCandidates(ctx)
	if err != nil {
		return err
	}

	rate := b.fees.SatPerByte(ctx)
	log.Debugf("Funding %d pending %s at %v from %d unspent %s",
		len(batches), pickNoun(len(batches), "batch", "batches"), rate,
		len(pool), pickNoun(len(pool), "output", "outputs"))

	for i := range batches {
		err := b.fundBatch(ctx, &batches[i], &pool, rate)
		switch {
		case IsError(err, ErrAssignmentRace):
			log.Debugf("Stopping input assignment: %v", err)
			return nil

		case err != nil:
			return err
		}
	}

	return nil
}

// fundBatch selects inputs for one pending batch and records them.
func (b *Batcher) fundBatch(ctx context.Context, c *batchContents,
	pool *candidatePool, rate unit.SatPerByte) error {

	batchID := c.batch.ID
	if len(c.outputs) == 0 {
		return nil
	}

	var (
		inputTotal  = c.inputTotal()
		outputTotal = c.outputTotal()
		numInputs   = len(c.inputs)
		selected    []chain.Unspent
	)
	// The size always makes room for a change output.
	feeFor := func(numInputs int) btcutil.Amount {
		return rate.FeeForSize(
			unit.LegacyTxSize(numInputs, len(c.outputs)+1),
		)
	}

	fee := feeFor(numInputs)
	for inputTotal < outputTotal+fee {
		u, ok := pool.take()
		if !ok {
			break
		}

		selected = append(selected, u)
		inputTotal += u.Amount
		numInputs++
		fee = feeFor(numInputs)
	}

	funded := inputTotal >= outputTotal+fee
	change := inputTotal - outputTotal - fee

	var changeAddr string
	if funded && change > 0 && !isDust(change) {
		changeWallet, err := b.ledger.InternalWallet(
			ctx, ChangeWalletIndex,
		)
		if err != nil {
			return err
		}
		addr, err := b.ledger.UnusedAddress(ctx, changeWallet.ID)
		if err != nil {
			return err
		}
		changeAddr = addr.Address
	}

	err := b.ledger.store.ExecTx(ctx, false, func(q Queries) error {
		// A concurrent run may have funded the batch since it was
		// loaded.
		current, err := q.GetOutgoingTx(ctx, batchID)
		if err != nil {
			return err
		}
		if current.State() != StatePending {
			return newError(ErrAssignmentRace,
				fmt.Sprintf("batch %d was funded concurrently",
					batchID), nil)
		}

		// Outputs or inputs added since the batch was loaded are
		// accounted for on the next run.
		outputs, err := q.ListOutputs(ctx, batchID)
		if err != nil {
			return err
		}
		inputs, err := q.ListInputs(ctx, batchID)
		if err != nil {
			return err
		}
		if len(outputs) != len(c.outputs) ||
			len(inputs) != len(c.inputs) {

			return newError(ErrAssignmentRace,
				fmt.Sprintf("batch %d changed while being "+
					"funded", batchID), nil)
		}

		for _, u := range selected {
			_, err := q.AddInput(ctx, batchID, u.OutPoint, u.Amount)
			if errors.Is(err, ErrDuplicate) {
				return newError(ErrAssignmentRace,
					fmt.Sprintf("output %v was assigned "+
						"concurrently", u.OutPoint), err)
			}
			if err != nil {
				return err
			}
		}

		if !funded {
			return nil
		}

		if changeAddr != "" {
			_, err := q.AddOutput(ctx, batchID, changeAddr, change)
			if err != nil {
				return err
			}
		}

		return q.MarkInputsSelected(ctx, batchID, b.ledger.now())
	})
	if err != nil {
		return storeError(
			fmt.Sprintf("unable to fund batch %d", batchID), err,
		)
	}

	if !funded {
		err := newError(ErrInsufficientHotWalletFunds,
			fmt.Sprintf("batch %d needs %v, hot wallet outputs "+
				"cover %v", batchID, outputTotal+fee,
				inputTotal), nil)
		log.Criticalf("%v", err)

		return err
	}

	log.Infof("Funded batch %d with %d %s, fee %v at %v, change %v",
		batchID, numInputs, pickNoun(numInputs, "input", "inputs"),
		fee, rate, change)

	return nil
}
