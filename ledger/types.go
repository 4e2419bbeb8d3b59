// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Path is the BIP32 derivation path of a wallet relative to the master key.
// Every element is a non-hardened child index.
type Path []uint32

// ParsePath parses a path of the form "1/2/3".
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty wallet path")
	}

	parts := strings.Split(s, "/")
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid wallet path %q: %w", s, err)
		}
		path = append(path, uint32(n))
	}

	if err := path.Validate(); err != nil {
		return nil, err
	}

	return path, nil
}

// Validate checks that the path is non-empty and contains only
// non-hardened indexes.
func (p Path) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("empty wallet path")
	}
	for _, n := range p {
		if n >= hdkeychain.HardenedKeyStart {
			return fmt.Errorf("wallet path %v contains hardened "+
				"index %d", p, n)
		}
	}
	return nil
}

// Reserved reports whether the path lies in the range kept for internal
// wallets.
func (p Path) Reserved() bool {
	return len(p) > 0 && p[0] == 0
}

// Child returns the path extended with subpath.
func (p Path) Child(subpath uint32) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, subpath)
}

// String renders the path as "a/b/c".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, "/")
}

// Wallet is a logical account inside the shared hot wallet.
type Wallet struct {
	ID       int64
	Path     Path
	Internal bool
}

// Address is a receiving address derived for a wallet.
type Address struct {
	ID       int64
	WalletID int64
	Subpath  uint32
	Address  string
}

// SendingAddress describes one destination of a debit. Address is empty
// when the destination was a wallet.
type SendingAddress struct {
	Amount  string `json:"amount"`
	Address string `json:"address,omitempty"`
}

// Transaction is a ledger entry. Credits are positive, debits negative.
type Transaction struct {
	ID               int64
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

// OnChain reports whether the entry is backed by an on-chain receipt.
func (t *Transaction) OnChain() bool {
	return t.IncomingTxID.IsSome()
}

// OutgoingState is the lifecycle stage of an outgoing batch.
type OutgoingState uint8

const (
	// StatePending batches accept new outputs and have no inputs
	// assigned yet.
	StatePending OutgoingState = iota

	// StateInputsSelected batches are fully funded and waiting to be
	// signed and broadcast.
	StateInputsSelected

	// StateSent batches were broadcast.
	StateSent
)

// String returns the state name.
func (s OutgoingState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInputsSelected:
		return "inputs_selected"
	case StateSent:
		return "sent"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// OutgoingTx is a batch of external payments settled by one on-chain
// transaction.
type OutgoingTx struct {
	ID               int64
	CreatedAt        time.Time
	InputsSelectedAt fn.Option[time.Time]
	SentAt           fn.Option[time.Time]
	BroadcastTxID    fn.Option[chainhash.Hash]
}

// State derives the batch state from its timestamps.
func (o *OutgoingTx) State() OutgoingState {
	switch {
	case o.SentAt.IsSome():
		return StateSent
	case o.InputsSelectedAt.IsSome():
		return StateInputsSelected
	default:
		return StatePending
	}
}

// Input is an unspent output of the hot wallet assigned to a batch.
type Input struct {
	ID           int64
	OutgoingTxID int64
	OutPoint     wire.OutPoint
	Amount       btcutil.Amount
}

// Output is a payment made by a batch.
type Output struct {
	ID           int64
	OutgoingTxID int64
	Address      string
	Amount       btcutil.Amount
}
