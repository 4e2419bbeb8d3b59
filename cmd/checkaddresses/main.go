// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcledger/chain"
	"github.com/btcsuite/btcledger/internal/cfgutil"
	"github.com/btcsuite/btcledger/internal/prompt"
	"github.com/btcsuite/btcledger/keychain"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/btcsuite/btcledger/ledgerdb"
	"github.com/btcsuite/btcledger/netparams"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
)

var (
	ledgerDataDirectory = btcutil.AppDataDir("btcledgerd", false)
	newlineBytes        = []byte{'\n'}
)

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

func errContext(err error, context string) error {
	return fmt.Errorf("%s: %w", context, err)
}

// Flags.
//
//nolint:ll
var opts = struct {
	TestNet3    bool             `long:"testnet" description:"Use the test bitcoin network (version 3)"`
	RegTest     bool             `long:"regtest" description:"Use the regression test network"`
	SimNet      bool             `long:"simnet" description:"Use the simulation bitcoin network"`
	RPCConnect  string           `short:"c" long:"rpcconnect" description:"Hostname[:port] of the bitcoind RPC server"`
	RPCUsername string           `short:"u" long:"rpcuser" description:"bitcoind RPC username"`
	DisableTLS  bool             `long:"notls" description:"Connect to the RPC server over plain HTTP"`
	CAFile      string           `long:"cafile" description:"RPC server TLS certificate"`
	Verbose     bool             `short:"v" long:"verbose" description:"Log every address check"`
	DB          *ledgerdb.Config `group:"db" namespace:"db"`
}{
	RPCConnect: "localhost",
	DB:         ledgerdb.DefaultConfig(""),
}

var activeNet = &netparams.MainNetParams

// Parse and validate flags.
func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	numNets := 0
	if opts.TestNet3 {
		activeNet = &netparams.TestNet3Params
		numNets++
	}
	if opts.RegTest {
		activeNet = &netparams.RegressionNetParams
		numNets++
	}
	if opts.SimNet {
		activeNet = &netparams.SimNetParams
		numNets++
	}
	if numNets > 1 {
		fatalf("Multiple bitcoin networks may not be used simultaneously")
	}

	rpcConnect, err := cfgutil.NormalizeAddress(opts.RPCConnect, activeNet.RPCPort)
	if err != nil {
		fatalf("Invalid RPC network address `%v`: %v", opts.RPCConnect, err)
	}
	opts.RPCConnect = rpcConnect

	if opts.RPCUsername == "" {
		fatalf("RPC username is required")
	}

	if opts.CAFile != "" {
		opts.CAFile = cfgutil.CleanAndExpandPath(opts.CAFile)
		certFileExists, err := cfgutil.FileExists(opts.CAFile)
		if err != nil {
			fatalf("%v", err)
		}
		if !certFileExists {
			fatalf("RPC certificate file `%s` not found", opts.CAFile)
		}
	}

	// Default to the database btcledgerd uses for the same network.
	if opts.DB.Sqlite.Path == "" {
		opts.DB.Sqlite.Path = filepath.Join(ledgerDataDirectory,
			activeNet.Name, ledgerdb.DefaultSqliteFilename)
	}
	opts.DB.Sqlite.Path = cfgutil.CleanAndExpandPath(opts.DB.Sqlite.Path)
	if err := opts.DB.Validate(); err != nil {
		fatalf("Invalid database options: %v", err)
	}

	if opts.Verbose {
		backend := btclog.NewBackend(os.Stdout)
		logger := backend.Logger("LDGR")
		logger.SetLevel(btclog.LevelDebug)
		ledger.UseLogger(logger)
	}
}

func main() {
	err := checkAddresses(context.Background())
	if err != nil {
		fatalf("%v", err)
	}
}

func checkAddresses(ctx context.Context) error {
	rpcPassword, err := prompt.Secret("bitcoind RPC password")
	if err != nil {
		return errContext(err, "failed to read RPC password")
	}
	masterKey, err := prompt.Secret("Master extended private key")
	if err != nil {
		return errContext(err, "failed to read master key")
	}

	keys, err := keychain.NewMasterKey(masterKey, activeNet.Params)
	if err != nil {
		return errContext(err, "invalid master key")
	}

	var certs []byte
	if !opts.DisableTLS && opts.CAFile != "" {
		certs, err = os.ReadFile(opts.CAFile)
		if err != nil {
			return errContext(err, "failed to read RPC certificate")
		}
	}
	node, err := chain.NewBitcoindClient(&chain.BitcoindConfig{
		Host:         opts.RPCConnect,
		User:         opts.RPCUsername,
		Pass:         rpcPassword,
		DisableTLS:   opts.DisableTLS,
		Certificates: certs,
		ChainParams:  activeNet.Params,
	})
	if err != nil {
		return errContext(err, "failed to create RPC client")
	}
	defer node.Stop()

	store, err := ledgerdb.Open(opts.DB)
	if err != nil {
		return errContext(err, "failed to open ledger database")
	}
	defer store.Close()

	l := ledger.New(ledger.Config{
		Store:       store,
		Chain:       node,
		Keys:        keys,
		ChainParams: activeNet.Params,
	})

	imported, err := l.EnsureAddressesImported(ctx)
	if imported > 0 {
		fmt.Printf("Imported %d %s. The keys were not rescanned, "+
			"restart bitcoind with -rescan to find earlier "+
			"payments.\n", imported, pickNoun(imported, "key", "keys"))
	}
	if err != nil {
		return errContext(err, "failed to check addresses")
	}
	if imported == 0 {
		fmt.Println("The node holds the key of every ledger address")
	}

	return nil
}

func pickNoun(n int, singularForm, pluralForm string) string {
	if n == 1 {
		return singularForm
	}
	return pluralForm
}
