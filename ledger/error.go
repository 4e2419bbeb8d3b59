// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

const (
	// ErrInvalidAmount indicates a payment amount that is not positive,
	// has more than eight decimal places, or an empty payment list.
	ErrInvalidAmount ErrorCode = iota

	// ErrInvalidTarget indicates a payment target that is missing,
	// unknown, or not a valid address for the active network.
	ErrInvalidTarget

	// ErrInsufficientBalance indicates the source wallet does not hold
	// enough confirmed funds for a transfer.
	ErrInsufficientBalance

	// ErrSigningIncomplete indicates the node could not fully sign an
	// outgoing batch and reported signing errors.
	ErrSigningIncomplete

	// ErrAssignmentRace indicates another run recorded one of the selected
	// unspent outputs first. The batch is retried on the next cycle.
	ErrAssignmentRace

	// ErrInsufficientHotWalletFunds indicates the node's spendable outputs
	// cannot cover a pending batch.
	ErrInsufficientHotWalletFunds

	// ErrReconciliationInconsistency indicates the chain reported a
	// different amount for a receipt the ledger already recorded.
	ErrReconciliationInconsistency

	// ErrKeyImport indicates the node refused a derived private key.
	ErrKeyImport

	// ErrReservedPath indicates a non-internal wallet was requested with
	// a path beginning with zero.
	ErrReservedPath

	// ErrBatchInconsistency indicates an outgoing batch whose outputs
	// exceed its inputs or whose fee has no payer.
	ErrBatchInconsistency

	// ErrWalletNotFound indicates an unknown wallet ID.
	ErrWalletNotFound

	// ErrDatabase indicates an error with the ledger store.
	ErrDatabase

	// ErrChain indicates an error talking to the node.
	ErrChain

	// lastErr is used for testing, making it possible to iterate over
	// the error codes in order to check that they all have proper
	// translations in errorCodeStrings.
	lastErr
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidAmount:               "ErrInvalidAmount",
	ErrInvalidTarget:               "ErrInvalidTarget",
	ErrInsufficientBalance:         "ErrInsufficientBalance",
	ErrSigningIncomplete:           "ErrSigningIncomplete",
	ErrAssignmentRace:              "ErrAssignmentRace",
	ErrInsufficientHotWalletFunds:  "ErrInsufficientHotWalletFunds",
	ErrReconciliationInconsistency: "ErrReconciliationInconsistency",
	ErrKeyImport:                   "ErrKeyImport",
	ErrReservedPath:                "ErrReservedPath",
	ErrBatchInconsistency:          "ErrBatchInconsistency",
	ErrWalletNotFound:              "ErrWalletNotFound",
	ErrDatabase:                    "ErrDatabase",
	ErrChain:                       "ErrChain",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is a typed error for all errors arising during ledger operations.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates a new Error.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err is, or wraps, an Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == code
}

// storeError wraps a store failure unless it already carries a ledger code.
func storeError(desc string, err error) error {
	var e Error
	if errors.As(err, &e) {
		return err
	}
	return newError(ErrDatabase, desc, err)
}

// chainError wraps a node failure.
func chainError(desc string, err error) error {
	return newError(ErrChain, desc, err)
}
