// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger keeps the books of many logical wallets that share a single
// Bitcoin hot wallet. Transfers between wallets are settled off-chain, payments
// to external addresses are batched into on-chain transactions, and incoming
// payments are reconciled from the node's view of the chain.
package ledger

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcledger/chain"
	"github.com/btcsuite/btcledger/keychain"
	"github.com/lightningnetwork/lnd/clock"
)

// Config holds the collaborators of a Ledger.
type Config struct {
	// Store persists the books.
	Store Store

	// Chain is the node holding the hot wallet keys.
	Chain chain.Client

	// Keys derives the receiving keys of ledger wallets.
	Keys keychain.Deriver

	// ChainParams is the network addresses are validated against.
	ChainParams *chaincfg.Params

	// Clock stamps new entries. Defaults to the system clock.
	Clock clock.Clock
}

// Ledger is the entry point for wallet operations.
type Ledger struct {
	store       Store
	chain       chain.Client
	keys        keychain.Deriver
	chainParams *chaincfg.Params
	clock       clock.Clock
}

// New creates a Ledger from cfg.
func New(cfg Config) *Ledger {
	c := cfg.Clock
	if c == nil {
		c = clock.NewDefaultClock()
	}

	return &Ledger{
		store:       cfg.Store,
		chain:       cfg.Chain,
		keys:        cfg.Keys,
		chainParams: cfg.ChainParams,
		clock:       c,
	}
}

// now returns the current time in UTC.
func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC()
}
