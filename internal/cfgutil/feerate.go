// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"github.com/btcsuite/btcledger/pkg/unit"
)

// FeeRateFlag embeds a unit.SatPerByte and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.
type FeeRateFlag struct {
	unit.SatPerByte
}

// NewFeeRateFlag creates a FeeRateFlag with a default rate.
func NewFeeRateFlag(defaultValue unit.SatPerByte) *FeeRateFlag {
	return &FeeRateFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (f *FeeRateFlag) MarshalFlag() (string, error) {
	return f.SatPerByte.FloatString(2), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (f *FeeRateFlag) UnmarshalFlag(value string) error {
	rate, err := unit.ParseSatPerByte(value)
	if err != nil {
		return err
	}
	f.SatPerByte = rate
	return nil
}
