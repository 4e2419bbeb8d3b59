// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
)

var (
	// ErrTxAlreadyKnown is returned when the transaction is already known
	// to the node.
	ErrTxAlreadyKnown = errors.New("txn already known")

	// ErrTxAlreadyInMempool is returned when the transaction is already
	// in the node's mempool.
	ErrTxAlreadyInMempool = errors.New("txn already in mempool")

	// ErrTxAlreadyConfirmed is returned when the transaction is already
	// in the block chain.
	ErrTxAlreadyConfirmed = errors.New("txn already confirmed")

	// ErrMissingInputs is returned when an input is unknown or already
	// spent.
	ErrMissingInputs = errors.New("missing inputs")

	// ErrInsufficientFee is returned when the transaction pays less than
	// the node's relay fee.
	ErrInsufficientFee = errors.New("insufficient fee")

	// ErrNonStandard is returned when the node's policy rejects the
	// transaction, e.g. for a dust output.
	ErrNonStandard = errors.New("non-standard transaction")

	// ErrUndefined is used when the node's error could not be mapped.
	ErrUndefined = errors.New("undefined error")
)

const (
	// rpcWalletError is bitcoind's generic wallet error code, returned
	// by dumpprivkey for keys the wallet does not hold.
	rpcWalletError btcjson.RPCErrorCode = -4

	// rpcVerifyAlreadyInChain is returned by sendrawtransaction for a
	// transaction that is already confirmed.
	rpcVerifyAlreadyInChain btcjson.RPCErrorCode = -27
)

// bitcoindErrPatterns maps bitcoind reject reasons to the sentinels above.
var bitcoindErrPatterns = []struct {
	pattern string
	err     error
}{
	{"txn-already-known", ErrTxAlreadyKnown},
	{"txn-already-in-mempool", ErrTxAlreadyInMempool},
	{"transaction already in block chain", ErrTxAlreadyConfirmed},
	{"transaction outputs already in utxo set", ErrTxAlreadyConfirmed},
	{"bad-txns-inputs-missingorspent", ErrMissingInputs},
	{"missing-inputs", ErrMissingInputs},
	{"min relay fee not met", ErrInsufficientFee},
	{"insufficient fee", ErrInsufficientFee},
	{"mempool min fee not met", ErrInsufficientFee},
	{"dust", ErrNonStandard},
	{"scriptpubkey", ErrNonStandard},
}

// MapRPCErr maps an error returned by bitcoind to one of the sentinels in
// this package. The original error text is preserved.
func MapRPCErr(rpcErr error) error {
	if rpcErr == nil {
		return nil
	}

	for _, p := range bitcoindErrPatterns {
		if matchErrStr(rpcErr, p.pattern) {
			return fmt.Errorf("%w: %v", p.err, rpcErr)
		}
	}

	var jsonErr *btcjson.RPCError
	if errors.As(rpcErr, &jsonErr) &&
		jsonErr.Code == rpcVerifyAlreadyInChain {

		return fmt.Errorf("%w: %v", ErrTxAlreadyConfirmed, rpcErr)
	}

	return fmt.Errorf("%w: %v", ErrUndefined, rpcErr)
}

// IsAlreadyBroadcast reports whether err means the node already has the
// transaction, so a rebroadcast can be treated as success.
func IsAlreadyBroadcast(err error) bool {
	return errors.Is(err, ErrTxAlreadyKnown) ||
		errors.Is(err, ErrTxAlreadyInMempool) ||
		errors.Is(err, ErrTxAlreadyConfirmed)
}

// matchErrStr takes an error returned from RPC client and matches it against
// the specified string. Dashes are treated as spaces and case is ignored.
func matchErrStr(err error, s string) bool {
	errStr := strings.ReplaceAll(err.Error(), "-", " ")
	s = strings.ReplaceAll(s, "-", " ")

	return strings.Contains(strings.ToLower(errStr), strings.ToLower(s))
}
