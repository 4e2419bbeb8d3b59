// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcledger/pkg/unit"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		addr     string
		expected string
	}{
		{"localhost", "localhost:8332"},
		{"127.0.0.1:18443", "127.0.0.1:18443"},
		{"::1", "[::1]:8332"},
		{"[::1]:1234", "[::1]:1234"},
	}

	for _, test := range tests {
		got, err := NormalizeAddress(test.addr, "8332")
		require.NoError(t, err, test.addr)
		require.Equal(t, test.expected, got, test.addr)
	}
}

func TestFeeRateFlag(t *testing.T) {
	f := NewFeeRateFlag(unit.NewSatPerByte(250))

	s, err := f.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "250.00", s)

	require.NoError(t, f.UnmarshalFlag("12.5"))
	require.Equal(t, "12.50 sat/B", f.String())

	require.Error(t, f.UnmarshalFlag("fast"))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "btcledgerd.conf")

	exists, err := FileExists(path)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, os.WriteFile(path, nil, 0600))

	exists, err = FileExists(path)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("BTCLEDGER_TEST_DIR", "/tmp/ledger")

	require.Equal(t, "/tmp/ledger/logs",
		CleanAndExpandPath("$BTCLEDGER_TEST_DIR/./logs"))
	require.Equal(t, "", CleanAndExpandPath(""))
}
