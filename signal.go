// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// shutdownRequestChannel is used to initiate shutdown from one of the
// subsystems using the same code paths as when an interrupt signal is
// received.
var shutdownRequestChannel = make(chan struct{}, 1)

// signals defines the signals that are handled to do a clean shutdown.
var signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// requestShutdown asks the daemon to stop as if it had been interrupted.
func requestShutdown() {
	select {
	case shutdownRequestChannel <- struct{}{}:
	default:
	}
}

// interruptListener returns a context that is canceled on the first SIGINT
// (Ctrl+C), SIGTERM or shutdown request. After that the default signal
// behavior is restored, so a second Ctrl+C terminates the process at once.
func interruptListener(parent context.Context) (context.Context,
	context.CancelFunc) {

	ctx, cancel := context.WithCancel(parent)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, signals...)

	go func() {
		defer signal.Stop(interrupts)

		select {
		case sig := <-interrupts:
			log.Infof("Received signal (%s).  Shutting down...", sig)

		case <-shutdownRequestChannel:
			log.Info("Received shutdown request.  Shutting down...")

		case <-ctx.Done():
			return
		}

		cancel()
	}()

	return ctx, cancel
}
