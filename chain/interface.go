// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// CategoryReceive is the listsinceblock category of an incoming payment.
const CategoryReceive = "receive"

// Client is the subset of a wallet-enabled bitcoind node used by the ledger.
// The node holds the private key of every ledger address.
type Client interface {
	// BlockCount returns the height of the best chain.
	BlockCount(ctx context.Context) (int32, error)

	// BlockHash returns the hash of the best-chain block at height.
	BlockHash(ctx context.Context, height int32) (*chainhash.Hash, error)

	// BlockHeight returns the height of the block with the given hash.
	BlockHeight(ctx context.Context, hash *chainhash.Hash) (int32, error)

	// ListSinceBlock returns the wallet transactions in blocks after the
	// given block, and in the mempool.
	ListSinceBlock(ctx context.Context, hash *chainhash.Hash) ([]Receipt,
		error)

	// ListUnspent returns the wallet's unspent outputs with at least
	// minConf confirmations.
	ListUnspent(ctx context.Context, minConf int32) ([]Unspent, error)

	// CreateRawTransaction builds an unsigned transaction spending inputs
	// to outputs, keyed by encoded address.
	CreateRawTransaction(ctx context.Context, inputs []wire.OutPoint,
		outputs map[string]btcutil.Amount) (*wire.MsgTx, error)

	// SignRawTransaction signs tx with the node's wallet keys.
	SignRawTransaction(ctx context.Context, tx *wire.MsgTx) (*SignResult,
		error)

	// SendRawTransaction broadcasts a signed transaction. Errors are
	// mapped to the sentinels in this package where possible.
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (
		*chainhash.Hash, error)

	// ImportPrivKey adds a private key to the node's wallet.
	ImportPrivKey(ctx context.Context, wif *btcutil.WIF, label string,
		rescan bool) error

	// HasPrivKey reports whether the node's wallet holds the private key
	// of addr.
	HasPrivKey(ctx context.Context, addr btcutil.Address) (bool, error)
}

// Receipt is one listsinceblock entry.
type Receipt struct {
	Category     string
	TxID         chainhash.Hash
	Vout         uint32
	Address      string
	Amount       btcutil.Amount
	BlockHash    fn.Option[chainhash.Hash]
	TimeReceived time.Time
}

// Unspent is one listunspent entry.
type Unspent struct {
	OutPoint      wire.OutPoint
	Address       string
	Amount        btcutil.Amount
	Confirmations int64
	Spendable     bool
}

// SignResult is the outcome of signing a raw transaction.
type SignResult struct {
	Tx       *wire.MsgTx
	Complete bool
	Errors   []string
}
