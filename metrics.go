// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/btcsuite/btcledger/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "btcledger"

// alertCodes are the ledger errors an operator has to act on.
var alertCodes = []ledger.ErrorCode{
	ledger.ErrInsufficientHotWalletFunds,
	ledger.ErrSigningIncomplete,
	ledger.ErrReconciliationInconsistency,
	ledger.ErrBatchInconsistency,
	ledger.ErrKeyImport,
}

// metrics holds the daemon's prometheus collectors.
type metrics struct {
	registry *prometheus.Registry

	taskRuns     *prometheus.CounterVec
	taskFailures *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
	batches      *prometheus.GaugeVec
	alerts       *prometheus.CounterVec
}

// newMetrics registers the daemon collectors, along with the Go runtime and
// process collectors, on a fresh registry.
func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		taskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_runs_total",
			Help:      "Number of periodic task runs",
		}, []string{"task"}),
		taskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_failures_total",
			Help:      "Number of periodic task runs that returned an error",
		}, []string{"task"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "task_last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful task run",
		}, []string{"task"}),
		batches: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outgoing_batches",
			Help:      "Number of outgoing batches by state",
		}, []string{"state"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Number of task failures that need operator attention",
		}, []string{"code"}),
	}
}

// observeTask records the outcome of one task run finished at now.
func (m *metrics) observeTask(task string, now time.Time, err error) {
	m.taskRuns.WithLabelValues(task).Inc()
	if err == nil {
		m.lastSuccess.WithLabelValues(task).Set(float64(now.Unix()))
		return
	}

	m.taskFailures.WithLabelValues(task).Inc()
	for _, code := range errorCodes(err) {
		for _, alert := range alertCodes {
			if code == alert {
				m.alerts.WithLabelValues(code.String()).Inc()
				break
			}
		}
	}
}

// errorCodes returns the distinct ledger error codes found in err, which may
// join several failures.
func errorCodes(err error) []ledger.ErrorCode {
	seen := make(map[ledger.ErrorCode]bool)

	var codes []ledger.ErrorCode
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}

		if lerr, ok := err.(ledger.Error); ok && !seen[lerr.ErrorCode] {
			seen[lerr.ErrorCode] = true
			codes = append(codes, lerr.ErrorCode)
		}

		switch e := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		default:
			walk(errors.Unwrap(err))
		}
	}
	walk(err)

	return codes
}

// updateBatches sets the batch gauges from the store.
func (m *metrics) updateBatches(ctx context.Context, store ledger.Store) error {
	states := []ledger.OutgoingState{
		ledger.StatePending, ledger.StateInputsSelected,
		ledger.StateSent,
	}

	counts := make(map[ledger.OutgoingState]int, len(states))
	err := store.ExecTx(ctx, true, func(q ledger.Queries) error {
		for _, state := range states {
			batches, err := q.ListOutgoingTxs(ctx, state)
			if err != nil {
				return err
			}
			counts[state] = len(batches)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for state, n := range counts {
		m.batches.WithLabelValues(state.String()).Set(float64(n))
	}
	return nil
}

// newMetricsServer returns a server exposing the registry on /metrics and a
// liveness probe on /healthz.
func newMetricsServer(addr string, m *metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		m.registry, promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}
