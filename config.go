// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcledger/feerate"
	"github.com/btcsuite/btcledger/internal/cfgutil"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/btcsuite/btcledger/ledgerdb"
	"github.com/btcsuite/btcledger/netparams"
	"github.com/btcsuite/btcledger/pkg/unit"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename    = "btcledgerd.conf"
	defaultLogLevel          = "info"
	defaultLogDirname        = "logs"
	defaultLogFilename       = "btcledgerd.log"
	defaultReconcileInterval = time.Minute
	defaultBatchInterval     = time.Minute
	defaultMinConf           = 1
	defaultMetricsListen     = "localhost:9332"

	// maxFeeRate bounds the configured fallback fee rate. Anything above
	// it is almost certainly a unit mistake.
	maxFeeRate = 10000
)

var (
	btcledgerdHomeDir = btcutil.AppDataDir("btcledgerd", false)
	defaultConfigFile = filepath.Join(btcledgerdHomeDir, defaultConfigFilename)
	defaultDataDir    = btcledgerdHomeDir
	defaultLogDir     = filepath.Join(btcledgerdHomeDir, defaultLogDirname)
)

// feeCacheConfig selects where fetched fee rates are kept.
//
//nolint:ll
type feeCacheConfig struct {
	Redis     string `long:"redis" description:"host:port of a redis server shared by all btcledgerd instances. Rates are cached in memory when unset."`
	RedisPass string `long:"redispass" default-mask:"-" description:"Password for the redis server"`
}

// config defines the configuration options for btcledgerd.
//
// See loadConfig for details on the configuration load process.
//
//nolint:ll
type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the sqlite ledger database"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Network selection
	TestNet3 bool `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	RegTest  bool `long:"regtest" description:"Use the regression test network"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`

	// bitcoind RPC options
	RPCConnect string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the wallet-enabled bitcoind RPC server"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Username for bitcoind RPC authentication"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for bitcoind RPC authentication"`
	DisableTLS bool   `long:"notls" description:"Connect to the RPC server over plain HTTP"`
	CAFile     string `long:"cafile" description:"File containing root certificates to authenticate the RPC server (system roots are used when unset)"`

	// Keys
	MasterKey string `long:"masterkey" default-mask:"-" description:"BIP32 extended private key all ledger addresses are derived from"`

	// Ledger database
	DB *ledgerdb.Config `group:"db" namespace:"db"`

	// Periodic tasks
	ReconcileInterval time.Duration `long:"reconcileinterval" description:"How often incoming payments are reconciled with the chain"`
	BatchInterval     time.Duration `long:"batchinterval" description:"How often outgoing batches are funded and broadcast"`
	FeeInterval       time.Duration `long:"feeinterval" description:"How often the fee rate is fetched from --feeurl"`
	RescanDepth       int32         `long:"rescandepth" description:"Number of already processed blocks rescanned on every reconciliation to follow reorganizations"`
	MinConf           int32         `long:"minconf" description:"Confirmations a hot wallet output needs before it can fund a batch"`

	// Fees
	FeeRate  *cfgutil.FeeRateFlag `long:"feerate" description:"Fee rate in sat/B used when no fetched rate is available"`
	FeeURL   string               `long:"feeurl" description:"Fee estimation endpoint returning a fastestFee field in sat/vB. Set to an empty value to always use --feerate"`
	FeeTTL   time.Duration        `long:"feettl" description:"How long a fetched fee rate is used"`
	FeeCache *feeCacheConfig      `group:"feecache" namespace:"feecache"`

	// Metrics
	MetricsListen string `long:"metricslisten" description:"Listen address for the prometheus metrics and health endpoint. Set to an empty value to disable"`

	// activeNet is the network selected by the network flags.
	activeNet *netparams.Params
}

// newDefaultConfig returns a config populated with default values.
func newDefaultConfig() config {
	return config{
		ConfigFile:        defaultConfigFile,
		DataDir:           defaultDataDir,
		LogDir:            defaultLogDir,
		DebugLevel:        defaultLogLevel,
		DB:                ledgerdb.DefaultConfig(""),
		ReconcileInterval: defaultReconcileInterval,
		BatchInterval:     defaultBatchInterval,
		FeeInterval:       feerate.DefaultRefreshInterval,
		RescanDepth:       ledger.DefaultRescanDepth,
		MinConf:           defaultMinConf,
		FeeRate: cfgutil.NewFeeRateFlag(
			unit.NewSatPerByte(feerate.DefaultSatPerByte),
		),
		FeeURL:        feerate.DefaultFeeURL,
		FeeTTL:        feerate.DefaultTTL,
		FeeCache:      &feeCacheConfig{},
		MetricsListen: defaultMetricsListen,
		activeNet:     &netparams.MainNetParams,
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		setLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	levels := make(map[string]string)
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		subsysID, logLevel, ok := strings.Cut(logLevelPair, "=")
		if !ok {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		levels[subsysID] = logLevel
	}

	// Only apply the levels once every pair is known to be valid.
	for subsysID, logLevel := range levels {
		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// errShowSubsystems is returned by loadConfig when the debug level "show" was
// requested. The caller prints the subsystems and exits.
var errShowSubsystems = errors.New("show subsystems")

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in btcledgerd functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
func loadConfig(args []string) (*config, error) {
	cfg := newDefaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	if preCfg.ShowVersion {
		return &preCfg, nil
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("unable to parse config file: %w",
				err)
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	// Warn about a missing config file only when an explicit one was
	// requested, after the final command line parse succeeds.
	if configFileError != nil && preCfg.ConfigFile != defaultConfigFile {
		log.Warnf("%v", configFileError)
	}

	if cfg.DebugLevel == "show" {
		return nil, errShowSubsystems
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks the parsed options and fills in the defaults that depend on
// other options.
func (cfg *config) validate() error {
	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		cfg.activeNet = &netparams.TestNet3Params
		numNets++
	}
	if cfg.RegTest {
		cfg.activeNet = &netparams.RegressionNetParams
		numNets++
	}
	if cfg.SimNet {
		cfg.activeNet = &netparams.SimNetParams
		numNets++
	}
	if numNets > 1 {
		return errors.New("the testnet, regtest and simnet params " +
			"can't be used together -- choose one")
	}

	cfg.DataDir = cfgutil.CleanAndExpandPath(cfg.DataDir)
	netDir := filepath.Join(cfg.DataDir, cfg.activeNet.Name)

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cfgutil.CleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.activeNet.Name)

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = "localhost"
	}
	rpcConnect, err := cfgutil.NormalizeAddress(
		cfg.RPCConnect, cfg.activeNet.RPCPort,
	)
	if err != nil {
		return fmt.Errorf("invalid rpcconnect network address: %w", err)
	}
	cfg.RPCConnect = rpcConnect

	if cfg.RPCUser == "" {
		return errors.New("the --rpcuser option is required")
	}

	if cfg.CAFile != "" {
		if cfg.DisableTLS {
			return errors.New("the --cafile and --notls options " +
				"can't be used together")
		}

		cfg.CAFile = cfgutil.CleanAndExpandPath(cfg.CAFile)
		exists, err := cfgutil.FileExists(cfg.CAFile)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("RPC certificate file `%s` not found",
				cfg.CAFile)
		}
	}

	if cfg.MasterKey == "" {
		return errors.New("the --masterkey option is required")
	}

	// The sqlite database lives in the network directory unless a path
	// was given explicitly.
	if cfg.DB.Sqlite.Path == "" {
		cfg.DB.Sqlite.Path = filepath.Join(
			netDir, ledgerdb.DefaultSqliteFilename,
		)
	}
	cfg.DB.Sqlite.Path = cfgutil.CleanAndExpandPath(cfg.DB.Sqlite.Path)
	if err := cfg.DB.Validate(); err != nil {
		return fmt.Errorf("invalid database options: %w", err)
	}

	for name, interval := range map[string]time.Duration{
		"reconcileinterval": cfg.ReconcileInterval,
		"batchinterval":     cfg.BatchInterval,
		"feeinterval":       cfg.FeeInterval,
		"feettl":            cfg.FeeTTL,
	} {
		if interval <= 0 {
			return fmt.Errorf("the --%s option must be positive", name)
		}
	}

	if cfg.RescanDepth < 0 {
		return errors.New("the --rescandepth option must be " +
			"non-negative")
	}
	if cfg.MinConf < 0 {
		return errors.New("required confirmations must be non-negative")
	}

	rate := cfg.FeeRate.SatPerByte
	if rate.IsZero() {
		return errors.New("the --feerate option must be positive")
	}
	if rate.Cmp(unit.NewSatPerByte(maxFeeRate).Rat) > 0 {
		return fmt.Errorf("fee rate `%v` is exceptionally high", rate)
	}

	return nil
}
