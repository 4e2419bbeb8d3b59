// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcledger/chain"
	"github.com/btcsuite/btcledger/feerate"
	"github.com/btcsuite/btcledger/keychain"
	"github.com/btcsuite/btcledger/ledger"
	"github.com/btcsuite/btcledger/ledgerdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// shutdownTimeout bounds how long the metrics server may take to drain.
const shutdownTimeout = 5 * time.Second

func main() {
	// Work around defer not working after os.Exit.
	if err := btcledgerdMain(); err != nil {
		os.Exit(1)
	}
}

// btcledgerdMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls to
// os.Exit.  Instead, main runs this function and checks for a non-nil error,
// at which point any defers have already run, and if the error is non-nil,
// the program can be exited with an error exit status.
func btcledgerdMain() error {
	cfg, err := loadConfig(os.Args[1:])
	switch {
	case errors.Is(err, errShowSubsystems):
		fmt.Println("Supported subsystems", supportedSubsystems())
		return nil

	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		return err

	case cfg.ShowVersion:
		fmt.Println(filepath.Base(os.Args[0]), "version", version())
		return nil
	}

	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logRotator.Close()

	log.Infof("Version %s on %s", version(), cfg.activeNet.Name)

	ctx, cancel := interruptListener(context.Background())
	defer cancel()

	var certs []byte
	if !cfg.DisableTLS && cfg.CAFile != "" {
		certs, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			log.Errorf("Unable to read CA file: %v", err)
			return err
		}
	}
	node, err := chain.NewBitcoindClient(&chain.BitcoindConfig{
		Host:         cfg.RPCConnect,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		DisableTLS:   cfg.DisableTLS,
		Certificates: certs,
		ChainParams:  cfg.activeNet.Params,
	})
	if err != nil {
		log.Errorf("Unable to create bitcoind RPC client: %v", err)
		return err
	}
	defer node.Stop()

	keys, err := keychain.NewMasterKey(cfg.MasterKey, cfg.activeNet.Params)
	if err != nil {
		log.Errorf("Invalid master key: %v", err)
		return err
	}

	store, err := ledgerdb.Open(cfg.DB)
	if err != nil {
		log.Errorf("Unable to open ledger database: %v", err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Unable to close ledger database: %v", err)
		}
	}()
	log.Infof("Opened %s ledger database", store.Backend())

	fees, closeFees, err := newFeeProvider(ctx, cfg)
	if err != nil {
		log.Errorf("Unable to set up fee rates: %v", err)
		return err
	}
	defer closeFees()

	l := ledger.New(ledger.Config{
		Store:       store,
		Chain:       node,
		Keys:        keys,
		ChainParams: cfg.activeNet.Params,
	})

	m := newMetrics()
	if cfg.MetricsListen != "" {
		server := newMetricsServer(cfg.MetricsListen, m)
		go func() {
			log.Infof("Metrics server listening on %s",
				cfg.MetricsListen)

			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
				requestShutdown()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	s := newScheduler(m, clock.NewDefaultClock(),
		newTasks(cfg, l, store, fees, m)...,
	)
	if err := s.Run(ctx); err != nil {
		log.Errorf("Scheduler failed: %v", err)
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

// newTasks builds the periodic tasks of the daemon.
func newTasks(cfg *config, l *ledger.Ledger, store ledger.Store,
	fees *feerate.Provider, m *metrics) []task {

	reconciler := ledger.NewReconciler(l, cfg.RescanDepth)
	batcher := ledger.NewBatcher(l, fees, cfg.MinConf)

	tasks := []task{
		{
			name:   "reconcile",
			ticker: ticker.New(cfg.ReconcileInterval),
			run:    reconciler.Run,
		},
		{
			name:   "batch",
			ticker: ticker.New(cfg.BatchInterval),
			run: func(ctx context.Context) error {
				err := batcher.Run(ctx)
				if gaugeErr := m.updateBatches(ctx, store); gaugeErr != nil {
					log.Warnf("Unable to count batches: %v",
						gaugeErr)
				}
				return err
			},
		},
	}

	if cfg.FeeURL != "" {
		tasks = append(tasks, task{
			name:   "feerate",
			ticker: ticker.New(cfg.FeeInterval),
			run:    fees.Refresh,
		})
	}

	return tasks
}

// newFeeProvider returns the fee-rate provider selected by cfg and a function
// releasing its resources. Without a fee URL every batch uses --feerate.
func newFeeProvider(ctx context.Context, cfg *config) (*feerate.Provider,
	func(), error) {

	fallback := cfg.FeeRate.SatPerByte
	if cfg.FeeURL == "" {
		log.Infof("Using a static fee rate of %v", fallback)
		return feerate.NewStatic(fallback), func() {}, nil
	}

	var (
		cache   feerate.Cache = feerate.NewMemoryCache(clock.NewDefaultClock())
		cleanup               = func() {}
	)
	if cfg.FeeCache.Redis != "" {
		client, err := feerate.DialRedis(
			ctx, cfg.FeeCache.Redis, cfg.FeeCache.RedisPass,
		)
		if err != nil {
			return nil, nil, err
		}

		cache = feerate.NewRedisCache(client, feerate.DefaultCacheKey)
		cleanup = func() {
			if err := client.Close(); err != nil {
				log.Warnf("Unable to close redis client: %v", err)
			}
		}
		log.Infof("Caching fee rates in redis at %s", cfg.FeeCache.Redis)
	}

	provider := feerate.New(feerate.Config{
		Source:   feerate.NewWebAPISource(cfg.FeeURL),
		Cache:    cache,
		TTL:      cfg.FeeTTL,
		Fallback: fallback,
	})

	return provider, cleanup, nil
}
