// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNotFound is returned by a store when a requested record does not
	// exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned by a store when an insert violates a
	// uniqueness constraint. On some backends the enclosing transaction
	// can no longer be used afterwards.
	ErrDuplicate = errors.New("duplicate record")
)

// Store runs units of work against the ledger database.
type Store interface {
	// ExecTx runs txBody inside a single serializable database
	// transaction. The transaction is committed if txBody returns nil and
	// rolled back otherwise. Transient serialization failures are retried
	// by running txBody again, so txBody must not have side effects
	// outside the store.
	ExecTx(ctx context.Context, readOnly bool,
		txBody func(Queries) error) error
}

// Queries is the full set of store operations available inside a unit of
// work.
type Queries interface {
	WalletStore
	AddressStore
	TxStore
	OutgoingStore
	ChainStateStore
}

// WalletStore defines the database actions for wallets.
type WalletStore interface {
	// GetOrCreateWallet returns the wallet with the given path, creating
	// it with the internal flag if it does not exist yet.
	GetOrCreateWallet(ctx context.Context, path Path, internal bool) (
		*Wallet, error)

	// GetWallet returns the wallet with the given ID or ErrNotFound.
	GetWallet(ctx context.Context, id int64) (*Wallet, error)

	// LockWallet serializes concurrent writers against a wallet until the
	// enclosing transaction ends.
	LockWallet(ctx context.Context, id int64) error
}

// CreateAddressParams holds the fields of a new address row.
type CreateAddressParams struct {
	WalletID int64
	Subpath  uint32
	Address  string
}

// AddressStore defines the database actions for receiving addresses.
type AddressStore interface {
	// CreateAddress inserts an address. ErrDuplicate is returned if the
	// subpath or address is already taken.
	CreateAddress(ctx context.Context, params CreateAddressParams) (
		*Address, error)

	// LatestAddress returns the wallet's address with the highest
	// subpath, or ErrNotFound.
	LatestAddress(ctx context.Context, walletID int64) (*Address, error)

	// GetAddressBySubpath returns the wallet's address at subpath, or
	// ErrNotFound.
	GetAddressBySubpath(ctx context.Context, walletID int64,
		subpath uint32) (*Address, error)

	// GetAddress returns the ledger address with the given encoding, or
	// ErrNotFound.
	GetAddress(ctx context.Context, address string) (*Address, error)

	// ListAddresses returns every ledger address ordered by ID.
	ListAddresses(ctx context.Context) ([]Address, error)

	// AddressHasChainReceipt reports whether any on-chain receipt was
	// recorded for the address.
	AddressHasChainReceipt(ctx context.Context, addressID int64) (bool,
		error)

	// AddressPaidByBatch reports whether any batch carries an output
	// paying the address.
	AddressPaidByBatch(ctx context.Context, address string) (bool, error)
}

// AmountFilter restricts a sum to credits or debits.
type AmountFilter uint8

const (
	// AllAmounts sums every entry.
	AllAmounts AmountFilter = iota

	// CreditsOnly sums positive entries.
	CreditsOnly

	// DebitsOnly sums negative entries.
	DebitsOnly
)

// SumQuery selects the entries of a wallet to be summed.
type SumQuery struct {
	WalletID int64
	Filter   AmountFilter

	// MaxHeight, when set, excludes on-chain entries without a block
	// height and entries confirmed above it. Off-chain entries are always
	// included.
	MaxHeight fn.Option[int32]
}

// CreateTransactionParams holds the fields of a new ledger entry.
type CreateTransactionParams struct {
	WalletID         int64
	Amount           btcutil.Amount
	Description      string
	CreatedAt        time.Time
	ReceivingAddress fn.Option[int64]
	SendingAddresses []SendingAddress
	IncomingTxID     fn.Option[chainhash.Hash]
	BlockHeight      fn.Option[int32]
	OutgoingTxID     fn.Option[int64]
}

// TxStore defines the database actions for ledger entries.
type TxStore interface {
	// CreateTransaction inserts a ledger entry. ErrDuplicate is returned
	// if the receipt was already recorded for the address.
	CreateTransaction(ctx context.Context,
		params CreateTransactionParams) (*Transaction, error)

	// SumAmounts returns the sum of the selected entries, zero if none.
	SumAmounts(ctx context.Context, query SumQuery) (btcutil.Amount, error)

	// SetOutgoingTx links a debit to the batch that pays it out.
	SetOutgoingTx(ctx context.Context, txID, outgoingTxID int64) error

	// ListBatchDebits returns the payment debits attached to a batch in
	// ID order.
	ListBatchDebits(ctx context.Context, outgoingTxID int64) (
		[]Transaction, error)

	// ListChainReceipts returns on-chain entries that are unconfirmed or
	// confirmed above the given height.
	ListChainReceipts(ctx context.Context, aboveHeight int32) (
		[]Transaction, error)

	// GetChainReceipt returns the entry recording txid paying the
	// address, or ErrNotFound.
	GetChainReceipt(ctx context.Context, addressID int64,
		txid chainhash.Hash) (*Transaction, error)

	// SetBlockHeight updates the confirmation height of an entry.
	SetBlockHeight(ctx context.Context, txID int64,
		height fn.Option[int32]) error

	// DeleteTransaction removes a ledger entry.
	DeleteTransaction(ctx context.Context, txID int64) error
}

// OutgoingStore defines the database actions for outgoing batches.
type OutgoingStore interface {
	// CreateOutgoingTx inserts an empty pending batch.
	CreateOutgoingTx(ctx context.Context, createdAt time.Time) (
		*OutgoingTx, error)

	// GetOutgoingTx returns the batch with the given ID, or ErrNotFound.
	GetOutgoingTx(ctx context.Context, id int64) (*OutgoingTx, error)

	// OldestOpenOutgoingTx returns the oldest pending batch that can still
	// take outputs, or ErrNotFound.
	OldestOpenOutgoingTx(ctx context.Context) (*OutgoingTx, error)

	// ListOutgoingTxs returns the batches in the given state in creation
	// order.
	ListOutgoingTxs(ctx context.Context, state OutgoingState) (
		[]OutgoingTx, error)

	// AddOutput appends an output to a batch.
	AddOutput(ctx context.Context, outgoingTxID int64, address string,
		amount btcutil.Amount) (*Output, error)

	// ListOutputs returns the outputs of a batch in ID order.
	ListOutputs(ctx context.Context, outgoingTxID int64) ([]Output, error)

	// AddInput assigns an unspent output to a batch. ErrDuplicate is
	// returned if the outpoint is already assigned anywhere.
	AddInput(ctx context.Context, outgoingTxID int64, op wire.OutPoint,
		amount btcutil.Amount) (*Input, error)

	// ListInputs returns the inputs of a batch in ID order.
	ListInputs(ctx context.Context, outgoingTxID int64) ([]Input, error)

	// InputExists reports whether the outpoint is assigned to any batch.
	InputExists(ctx context.Context, op wire.OutPoint) (bool, error)

	// MarkInputsSelected closes a pending batch.
	MarkInputsSelected(ctx context.Context, outgoingTxID int64,
		at time.Time) error

	// MarkSent records the broadcast of a batch. It returns false if the
	// batch was already marked sent.
	MarkSent(ctx context.Context, outgoingTxID int64, at time.Time,
		txid chainhash.Hash) (bool, error)

	// IsBroadcastTx reports whether txid is the broadcast transaction of
	// any batch.
	IsBroadcastTx(ctx context.Context, txid chainhash.Hash) (bool, error)
}

// ChainStateStore tracks the chain reconciliation marker.
type ChainStateStore interface {
	// CurrentBlockHeight returns the last processed height, zero if the
	// chain has never been reconciled.
	CurrentBlockHeight(ctx context.Context) (int32, error)

	// SetCurrentBlockHeight stores the last processed height.
	SetCurrentBlockHeight(ctx context.Context, height int32) error
}
