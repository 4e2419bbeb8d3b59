// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package unit provides the fee rate and transaction size units used when
// pricing outgoing batches.
package unit

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// floatStringPrecision is the number of decimal places to use when
// converting a fee rate to a string.
const floatStringPrecision = 2

// SatPerByte represents a fee rate in satoshis per serialized byte. The rate
// is encoded as a big.Rat to allow for fractional rates.
type SatPerByte struct {
	*big.Rat
}

// NewSatPerByte creates a fee rate of the given whole satoshis per byte.
func NewSatPerByte(sats int64) SatPerByte {
	return SatPerByte{big.NewRat(sats, 1)}
}

// ParseSatPerByte parses a decimal fee rate such as "250" or "12.5". An
// optional " sat/B" suffix is accepted.
func ParseSatPerByte(s string) (SatPerByte, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "sat/B"))

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return SatPerByte{}, fmt.Errorf("invalid fee rate %q", s)
	}
	if r.Sign() < 0 {
		return SatPerByte{}, fmt.Errorf("negative fee rate %q", s)
	}

	return SatPerByte{r}, nil
}

// FeeForSize returns the fee for a transaction of the given size, rounded
// half up to the nearest satoshi.
func (s SatPerByte) FeeForSize(size ByteSize) btcutil.Amount {
	if s.Rat == nil {
		return 0
	}

	fee := new(big.Rat).Mul(s.Rat, new(big.Rat).SetUint64(uint64(size)))

	return roundHalfUp(fee)
}

// IsZero reports whether the rate is unset or zero.
func (s SatPerByte) IsZero() bool {
	return s.Rat == nil || s.Sign() == 0
}

// String returns a human-readable string of the fee rate.
func (s SatPerByte) String() string {
	if s.Rat == nil {
		return "0.00 sat/B"
	}

	return s.FloatString(floatStringPrecision) + " sat/B"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerByte) Equal(other SatPerByte) bool {
	if s.Rat == nil || other.Rat == nil {
		return s.IsZero() && other.IsZero()
	}

	return s.Cmp(other.Rat) == 0
}

// roundHalfUp rounds a non-negative rational amount of satoshis to the
// nearest satoshi, with halves rounded up.
func roundHalfUp(r *big.Rat) btcutil.Amount {
	// floor(r + 1/2)
	half := new(big.Rat).Add(r, big.NewRat(1, 2))
	q := new(big.Int).Quo(half.Num(), half.Denom())

	return btcutil.Amount(q.Int64())
}
