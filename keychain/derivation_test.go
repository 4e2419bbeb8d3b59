// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func testMaster(t *testing.T) *MasterKey {
	t.Helper()

	seed := bytes.Repeat([]byte{0x2a}, hdkeychain.RecommendedSeedLen)
	m, err := NewMasterKeyFromSeed(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	return m
}

// TestDeriveDeterministic checks that the same path always yields the same
// key and that the address matches the key.
func TestDeriveDeterministic(t *testing.T) {
	m := testMaster(t)

	addr1, wif1, err := m.Derive([]uint32{1, 2}, 0)
	require.NoError(t, err)
	addr2, wif2, err := m.Derive([]uint32{1, 2}, 0)
	require.NoError(t, err)

	require.Equal(t, addr1.EncodeAddress(), addr2.EncodeAddress())
	require.Equal(t, wif1.String(), wif2.String())
	require.True(t, wif1.CompressPubKey)
	require.Len(t, wif1.SerializePubKey(), btcec.PubKeyBytesLenCompressed)
	require.True(t, addr1.IsForNet(&chaincfg.RegressionNetParams))

	expected, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(wif1.SerializePubKey()),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	require.Equal(t, expected.EncodeAddress(), addr1.EncodeAddress())

	// Neighbouring subpaths and wallets differ.
	other, _, err := m.Derive([]uint32{1, 2}, 1)
	require.NoError(t, err)
	require.NotEqual(t, addr1.EncodeAddress(), other.EncodeAddress())

	other, _, err = m.Derive([]uint32{1, 3}, 0)
	require.NoError(t, err)
	require.NotEqual(t, addr1.EncodeAddress(), other.EncodeAddress())
}

// TestDeriveMatchesChildKeys checks the path walk against hdkeychain.
func TestDeriveMatchesChildKeys(t *testing.T) {
	m := testMaster(t)

	key := m.root
	for _, i := range []uint32{0, 7, 3} {
		var err error
		key, err = key.Derive(i)
		require.NoError(t, err)
	}
	expected, err := key.Address(&chaincfg.RegressionNetParams)
	require.NoError(t, err)

	addr, _, err := m.Derive([]uint32{0, 7}, 3)
	require.NoError(t, err)
	require.Equal(t, expected.EncodeAddress(), addr.EncodeAddress())
}

func TestDeriveRejectsHardened(t *testing.T) {
	m := testMaster(t)

	_, _, err := m.Derive([]uint32{hdkeychain.HardenedKeyStart}, 0)
	require.Error(t, err)
}

func TestNewMasterKey(t *testing.T) {
	m := testMaster(t)

	parsed, err := NewMasterKey(m.root.String(),
		&chaincfg.RegressionNetParams)
	require.NoError(t, err)

	a1, _, err := m.Derive([]uint32{5}, 0)
	require.NoError(t, err)
	a2, _, err := parsed.Derive([]uint32{5}, 0)
	require.NoError(t, err)
	require.Equal(t, a1.EncodeAddress(), a2.EncodeAddress())

	pub, err := m.root.Neuter()
	require.NoError(t, err)
	_, err = NewMasterKey(pub.String(), &chaincfg.RegressionNetParams)
	require.ErrorIs(t, err, ErrPublicMaster)

	_, err = NewMasterKey(m.root.String(), &chaincfg.MainNetParams)
	require.Error(t, err)

	_, err = NewMasterKey("xprvnonsense", &chaincfg.MainNetParams)
	require.Error(t, err)
}
