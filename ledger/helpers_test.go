// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcledger/chain"
	"github.com/btcsuite/btcledger/keychain"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/btcsuite/btcledger/ledgerdb"
	"github.com/btcsuite/btcledger/pkg/unit"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	netParams = &chaincfg.RegressionNetParams

	testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// fakeChain is an in-memory node holding the hot wallet.
type fakeChain struct {
	mu sync.Mutex

	blocks   []chainhash.Hash
	nonce    uint32
	receipts []chain.Receipt
	unspent  []chain.Unspent
	keys     map[string]bool
	nextTx   uint32

	importErr   error
	sendErr     error
	broadcasted []*wire.MsgTx
}

// A compile-time assertion to ensure fakeChain implements chain.Client.
var _ chain.Client = (*fakeChain)(nil)

func newFakeChain() *fakeChain {
	f := &fakeChain{keys: make(map[string]bool)}
	f.mine(1)
	return f
}

// mine appends n blocks to the chain.
func (f *fakeChain) mine(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := 0; i < n; i++ {
		f.nonce++
		var seed [8]byte
		binary.BigEndian.PutUint32(seed[:4], uint32(len(f.blocks)))
		binary.BigEndian.PutUint32(seed[4:], f.nonce)
		f.blocks = append(f.blocks, chainhash.DoubleHashH(seed[:]))
	}
}

// reorg replaces every block from height on with n new blocks and drops
// the receipts confirmed in the replaced blocks.
func (f *fakeChain) reorg(height int32, n int) {
	f.mu.Lock()
	stale := make(map[chainhash.Hash]bool)
	for _, h := range f.blocks[height:] {
		stale[h] = true
	}
	f.blocks = f.blocks[:height]

	kept := f.receipts[:0]
	for _, r := range f.receipts {
		if r.BlockHash.IsSome() &&
			stale[r.BlockHash.UnwrapOr(chainhash.Hash{})] {

			continue
		}
		kept = append(kept, r)
	}
	f.receipts = kept
	f.mu.Unlock()

	f.mine(n)
}

func (f *fakeChain) tip() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int32(len(f.blocks) - 1)
}

// newTxID returns a fresh transaction hash.
func (f *fakeChain) newTxID() chainhash.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextTx++
	return chainhash.DoubleHashH([]byte(fmt.Sprintf("tx-%d", f.nextTx)))
}

// pay records a receive of amount to addr in txid, confirmed at height or
// unconfirmed when height is zero.
func (f *fakeChain) pay(txid chainhash.Hash, addr string,
	amount btcutil.Amount, height int32) {

	f.mu.Lock()
	defer f.mu.Unlock()

	r := chain.Receipt{
		Category:     chain.CategoryReceive,
		TxID:         txid,
		Address:      addr,
		Amount:       amount,
		TimeReceived: testStart.Add(time.Duration(height) * time.Minute),
	}
	if height > 0 {
		r.BlockHash = fn.Some(f.blocks[height])
	}
	f.receipts = append(f.receipts, r)
}

// confirm moves every receipt of txid into the block at height.
func (f *fakeChain) confirm(txid chainhash.Hash, height int32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.receipts {
		if f.receipts[i].TxID == txid {
			f.receipts[i].BlockHash = fn.Some(f.blocks[height])
		}
	}
}

// setAmount changes the amount the node reports for every receipt of txid.
func (f *fakeChain) setAmount(txid chainhash.Hash, amount btcutil.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.receipts {
		if f.receipts[i].TxID == txid {
			f.receipts[i].Amount = amount
		}
	}
}

// setUnspent replaces the hot wallet's unspent outputs.
func (f *fakeChain) setUnspent(unspent ...chain.Unspent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unspent = unspent
}

func (f *fakeChain) heightOf(hash chainhash.Hash) (int32, bool) {
	for h, b := range f.blocks {
		if b == hash {
			return int32(h), true
		}
	}
	return 0, false
}

func (f *fakeChain) BlockCount(context.Context) (int32, error) {
	return f.tip(), nil
}

func (f *fakeChain) BlockHash(_ context.Context, height int32) (
	*chainhash.Hash, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if height < 0 || int(height) >= len(f.blocks) {
		return nil, fmt.Errorf("block height %d out of range", height)
	}
	h := f.blocks[height]
	return &h, nil
}

func (f *fakeChain) BlockHeight(_ context.Context, hash *chainhash.Hash) (
	int32, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.heightOf(*hash)
	if !ok {
		return 0, fmt.Errorf("block %v not found", hash)
	}
	return h, nil
}

func (f *fakeChain) ListSinceBlock(_ context.Context,
	hash *chainhash.Hash) ([]chain.Receipt, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	since, ok := f.heightOf(*hash)
	if !ok {
		return nil, fmt.Errorf("block %v not found", hash)
	}

	var receipts []chain.Receipt
	for _, r := range f.receipts {
		if r.BlockHash.IsSome() {
			h, _ := f.heightOf(r.BlockHash.UnwrapOr(chainhash.Hash{}))
			if h <= since {
				continue
			}
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func (f *fakeChain) ListUnspent(_ context.Context, minConf int32) (
	[]chain.Unspent, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	var unspent []chain.Unspent
	for _, u := range f.unspent {
		if u.Confirmations >= int64(minConf) {
			unspent = append(unspent, u)
		}
	}
	return unspent, nil
}

func (f *fakeChain) CreateRawTransaction(_ context.Context,
	inputs []wire.OutPoint,
	outputs map[string]btcutil.Amount) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(wire.TxVersion)
	for i := range inputs {
		tx.AddTxIn(wire.NewTxIn(&inputs[i], nil, nil))
	}

	addrs := make([]string, 0, len(outputs))
	for addr := range outputs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		tx.AddTxOut(wire.NewTxOut(int64(outputs[addr]), []byte(addr)))
	}

	return tx, nil
}

func (f *fakeChain) SignRawTransaction(_ context.Context,
	tx *wire.MsgTx) (*chain.SignResult, error) {

	return &chain.SignResult{Tx: tx, Complete: true}, nil
}

func (f *fakeChain) SendRawTransaction(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.broadcasted = append(f.broadcasted, tx)

	hash := tx.TxHash()
	return &hash, nil
}

func (f *fakeChain) ImportPrivKey(_ context.Context, wif *btcutil.WIF,
	_ string, rescan bool) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	if rescan {
		return fmt.Errorf("unexpected rescan")
	}
	if f.importErr != nil {
		return f.importErr
	}

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(wif.SerializePubKey()), netParams,
	)
	if err != nil {
		return err
	}
	f.keys[addr.EncodeAddress()] = true

	return nil
}

func (f *fakeChain) HasPrivKey(_ context.Context, addr btcutil.Address) (
	bool, error) {

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[addr.EncodeAddress()], nil
}

// forgetKeys drops every imported key from the node wallet.
func (f *fakeChain) forgetKeys() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = make(map[string]bool)
}

// staticFees is a fixed fee rate.
type staticFees struct {
	rate unit.SatPerByte
}

func (s staticFees) SatPerByte(context.Context) unit.SatPerByte {
	return s.rate
}

// testHarness bundles a ledger with its fake node and store.
type testHarness struct {
	t      *testing.T
	ctx    context.Context
	ledger *ledger.Ledger
	chain  *fakeChain
	store  ledger.Store
	clock  *clock.TestClock
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	fake := newFakeChain()
	return newHarnessWith(t, fake, fake)
}

// newHarnessWith builds a harness whose ledger talks to node, which wraps
// or is fake.
func newHarnessWith(t *testing.T, fake *fakeChain,
	node chain.Client) *testHarness {

	t.Helper()

	keys, err := keychain.NewMasterKeyFromSeed(
		bytes.Repeat([]byte{0x01}, 32), netParams,
	)
	require.NoError(t, err)

	store := ledgerdb.NewTestStore(t)
	testClock := clock.NewTestClock(testStart)

	l := ledger.New(ledger.Config{
		Store:       store,
		Chain:       node,
		Keys:        keys,
		ChainParams: netParams,
		Clock:       testClock,
	})

	return &testHarness{
		t:      t,
		ctx:    context.Background(),
		ledger: l,
		chain:  fake,
		store:  store,
		clock:  testClock,
	}
}

// wallet returns the wallet at path.
func (h *testHarness) wallet(path ...uint32) *ledger.Wallet {
	h.t.Helper()

	w, err := h.ledger.Wallet(h.ctx, ledger.Path(path))
	require.NoError(h.t, err)
	return w
}

// credit records an off-chain credit of amount on the wallet.
func (h *testHarness) credit(walletID int64, amount btcutil.Amount) {
	h.t.Helper()

	err := h.store.ExecTx(h.ctx, false, func(q ledger.Queries) error {
		_, err := q.CreateTransaction(h.ctx,
			ledger.CreateTransactionParams{
				WalletID:    walletID,
				Amount:      amount,
				Description: "deposit",
				CreatedAt:   testStart,
			})
		return err
	})
	require.NoError(h.t, err)
}

// receive pays amount on-chain to a fresh address of the wallet at height
// (zero for unconfirmed) and reconciles.
func (h *testHarness) receive(walletID int64, amount btcutil.Amount,
	height int32) chainhash.Hash {

	h.t.Helper()

	addr, err := h.ledger.UnusedAddress(h.ctx, walletID)
	require.NoError(h.t, err)

	txid := h.chain.newTxID()
	h.chain.pay(txid, addr.Address, amount, height)
	h.reconcile()

	return txid
}

func (h *testHarness) reconcile() {
	h.t.Helper()

	r := ledger.NewReconciler(h.ledger, ledger.DefaultRescanDepth)
	require.NoError(h.t, r.Run(h.ctx))
}

func (h *testHarness) balance(walletID int64, minConf int32) btcutil.Amount {
	h.t.Helper()

	b, err := h.ledger.Balance(h.ctx, walletID, minConf)
	require.NoError(h.t, err)
	return b
}

// read runs body in a read transaction.
func (h *testHarness) read(body func(q ledger.Queries)) {
	h.t.Helper()

	err := h.store.ExecTx(h.ctx, true, func(q ledger.Queries) error {
		body(q)
		return nil
	})
	require.NoError(h.t, err)
}

// batches returns the batches in state with their outputs and inputs.
func (h *testHarness) batches(state ledger.OutgoingState) (
	[]ledger.OutgoingTx, map[int64][]ledger.Output,
	map[int64][]ledger.Input) {

	h.t.Helper()

	var (
		otxs    []ledger.OutgoingTx
		outputs = make(map[int64][]ledger.Output)
		inputs  = make(map[int64][]ledger.Input)
	)
	h.read(func(q ledger.Queries) {
		var err error
		otxs, err = q.ListOutgoingTxs(h.ctx, state)
		require.NoError(h.t, err)

		for _, o := range otxs {
			outputs[o.ID], err = q.ListOutputs(h.ctx, o.ID)
			require.NoError(h.t, err)
			inputs[o.ID], err = q.ListInputs(h.ctx, o.ID)
			require.NoError(h.t, err)
		}
	})

	return otxs, outputs, inputs
}

// externalAddress returns a valid address the ledger does not know.
func externalAddress(t *testing.T, index uint32) string {
	t.Helper()

	keys, err := keychain.NewMasterKeyFromSeed(
		bytes.Repeat([]byte{0x02}, 32), netParams,
	)
	require.NoError(t, err)

	addr, _, err := keys.Derive([]uint32{9}, index)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// btc parses a BTC amount.
func btc(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// toBTC converts satoshis to a BTC amount.
func toBTC(amount btcutil.Amount) decimal.Decimal {
	return decimal.New(int64(amount), -8)
}

// sat converts a BTC amount string to satoshis.
func sat(s string) btcutil.Amount {
	return btcutil.Amount(btc(s).Shift(8).IntPart())
}

// rate returns a whole fee rate.
func rate(satPerByte int64) unit.SatPerByte {
	return unit.NewSatPerByte(satPerByte)
}

// chainUnspent returns a spendable hot wallet output.
func chainUnspent(n uint32, amount btcutil.Amount,
	confirmations int64) chain.Unspent {

	return chain.Unspent{
		OutPoint:      outpoint(n),
		Address:       "hot",
		Amount:        amount,
		Confirmations: confirmations,
		Spendable:     true,
	}
}

// outpoint returns a distinct outpoint.
func outpoint(n uint32) wire.OutPoint {
	return wire.OutPoint{
		Hash:  chainhash.DoubleHashH([]byte(fmt.Sprintf("utxo-%d", n))),
		Index: n % 3,
	}
}
