// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// RPCPort is the default JSON-RPC port of a bitcoind node serving
	// this network.
	RPCPort string
}

// MainNetParams contains parameters specific to running btcledgerd against
// bitcoind on the main network (wire.MainNet).
var MainNetParams = Params{
	Params:  &chaincfg.MainNetParams,
	RPCPort: "8332",
}

// TestNet3Params contains parameters specific to running btcledgerd against
// bitcoind on the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:  &chaincfg.TestNet3Params,
	RPCPort: "18332",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:  &chaincfg.RegressionNetParams,
	RPCPort: "18443",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:  &chaincfg.SigNetParams,
	RPCPort: "38332",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:  &chaincfg.SimNetParams,
	RPCPort: "18554",
}

// ByName returns the network parameters registered under the chaincfg name.
func ByName(name string) (*Params, error) {
	for _, p := range []*Params{
		&MainNetParams, &TestNet3Params, &RegressionNetParams,
		&SigNetParams, &SimNetParams,
	} {
		if p.Name == name {
			return p, nil
		}
	}

	return nil, fmt.Errorf("unknown network %q", name)
}
