// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain derives the receiving keys of ledger wallets from a single
// BIP32 master key.
package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrPublicMaster is returned when the configured master key is an extended
// public key.
var ErrPublicMaster = errors.New("master key is not private")

// Deriver derives the address and private key at a wallet path plus subpath.
type Deriver interface {
	Derive(path []uint32, subpath uint32) (btcutil.Address, *btcutil.WIF,
		error)
}

// MasterKey derives compressed pay-to-pubkey-hash keys from an extended
// private key.
type MasterKey struct {
	root        *hdkeychain.ExtendedKey
	chainParams *chaincfg.Params
}

// A compile-time assertion to ensure MasterKey implements Deriver.
var _ Deriver = (*MasterKey)(nil)

// NewMasterKey parses a base58 extended private key for the given network.
func NewMasterKey(xprv string, chainParams *chaincfg.Params) (*MasterKey,
	error) {

	root, err := hdkeychain.NewKeyFromString(xprv)
	if err != nil {
		return nil, fmt.Errorf("invalid master key: %w", err)
	}
	if !root.IsPrivate() {
		return nil, ErrPublicMaster
	}
	if !root.IsForNet(chainParams) {
		return nil, fmt.Errorf("master key is not for network %v",
			chainParams.Name)
	}

	return &MasterKey{root: root, chainParams: chainParams}, nil
}

// NewMasterKeyFromSeed creates a master key from a BIP32 seed.
func NewMasterKeyFromSeed(seed []byte,
	chainParams *chaincfg.Params) (*MasterKey, error) {

	root, err := hdkeychain.NewMaster(seed, chainParams)
	if err != nil {
		return nil, err
	}

	return &MasterKey{root: root, chainParams: chainParams}, nil
}

// Derive returns the P2PKH address and WIF encoded private key at
// path/subpath. All indexes are non-hardened.
func (m *MasterKey) Derive(path []uint32, subpath uint32) (btcutil.Address,
	*btcutil.WIF, error) {

	key := m.root
	for _, index := range append(append([]uint32{}, path...), subpath) {
		if index >= hdkeychain.HardenedKeyStart {
			return nil, nil, fmt.Errorf("hardened index %d not "+
				"allowed", index)
		}

		var err error
		key, err = key.Derive(index)
		if err != nil {
			return nil, nil, err
		}
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}

	wif, err := btcutil.NewWIF(privKey, m.chainParams, true)
	if err != nil {
		return nil, nil, err
	}

	pkHash := btcutil.Hash160(wif.SerializePubKey())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, m.chainParams)
	if err != nil {
		return nil, nil, err
	}

	return addr, wif, nil
}
