// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package unit

import (
	"fmt"

	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// LegacyInputSize is the estimated size of an input redeeming a
	// compressed P2PKH output with a 72 byte signature.
	LegacyInputSize = 148

	// LegacyOutputSize is the size of a P2PKH output.
	LegacyOutputSize = txsizes.P2PKHOutputSize

	// LegacyTxOverhead covers the version, locktime and the input and
	// output count varints of a small transaction.
	LegacyTxOverhead = 10
)

// ByteSize is the serialized size of a transaction in bytes.
type ByteSize uint64

// String returns the string representation of the size.
func (b ByteSize) String() string {
	return fmt.Sprintf("%d B", uint64(b))
}

// LegacyTxSize estimates the serialized size of a transaction spending
// numInputs P2PKH outputs into numOutputs P2PKH outputs.
func LegacyTxSize(numInputs, numOutputs int) ByteSize {
	return ByteSize(LegacyInputSize*numInputs +
		LegacyOutputSize*numOutputs + LegacyTxOverhead)
}
