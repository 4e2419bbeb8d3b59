// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

// task is a unit of periodic work.
type task struct {
	name   string
	ticker ticker.Ticker
	run    func(context.Context) error
}

// scheduler runs each task once at startup and then on every tick of its
// ticker. A task never overlaps with itself; different tasks run
// concurrently and only meet in the ledger store.
type scheduler struct {
	tasks   []task
	metrics *metrics
	clock   clock.Clock
}

// newScheduler creates a scheduler for tasks.
func newScheduler(m *metrics, c clock.Clock, tasks ...task) *scheduler {
	return &scheduler{
		tasks:   tasks,
		metrics: m,
		clock:   c,
	}
}

// Run blocks until ctx is canceled and every task has returned.
func (s *scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}

	return g.Wait()
}

func (s *scheduler) loop(ctx context.Context, t task) {
	t.ticker.Resume()
	defer t.ticker.Stop()

	s.runOnce(ctx, t)

	for {
		select {
		case <-t.ticker.Ticks():
			s.runOnce(ctx, t)

		case <-ctx.Done():
			log.Debugf("Stopped %s task", t.name)
			return
		}
	}
}

func (s *scheduler) runOnce(ctx context.Context, t task) {
	log.Tracef("Running %s task", t.name)

	err := t.run(ctx)

	// A run cut short by shutdown is neither a success nor a failure.
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}

	s.metrics.observeTask(t.name, s.clock.Now(), err)
	if err != nil {
		log.Errorf("Task %s failed: %v", t.name, err)
	}
}
