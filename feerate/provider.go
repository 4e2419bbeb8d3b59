// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package feerate supplies the fee rate used to fund outgoing batches. A
// Provider serves the last rate fetched from a web source while it is fresh
// and falls back to a static rate otherwise.
package feerate

import (
	"context"
	"time"

	"github.com/btcsuite/btcledger/pkg/unit"
)

const (
	// DefaultSatPerByte is the fallback rate.
	DefaultSatPerByte = 250

	// DefaultTTL is how long a fetched rate is used.
	DefaultTTL = time.Hour

	// DefaultRefreshInterval is how often the daemon fetches a new rate.
	DefaultRefreshInterval = 20 * time.Minute
)

// Config holds the parts of a Provider.
type Config struct {
	// Source is queried by Refresh. Without one the provider always
	// serves Fallback.
	Source Source

	// Cache holds fetched rates.
	Cache Cache

	// TTL is how long a fetched rate is served.
	TTL time.Duration

	// Fallback is served when no fresh rate is cached.
	Fallback unit.SatPerByte
}

// Provider serves the current fee rate.
type Provider struct {
	cfg Config
}

// New creates a provider from cfg.
func New(cfg Config) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Fallback.IsZero() {
		cfg.Fallback = unit.NewSatPerByte(DefaultSatPerByte)
	}

	return &Provider{cfg: cfg}
}

// NewStatic creates a provider that always serves rate.
func NewStatic(rate unit.SatPerByte) *Provider {
	return New(Config{Fallback: rate})
}

// SatPerByte returns the cached rate, or the fallback if there is none or
// the cache cannot be read.
func (p *Provider) SatPerByte(ctx context.Context) unit.SatPerByte {
	if p.cfg.Cache == nil {
		return p.cfg.Fallback
	}

	cached, err := p.cfg.Cache.Get(ctx)
	if err != nil {
		log.Warnf("Unable to read cached fee rate, using %v: %v",
			p.cfg.Fallback, err)
		return p.cfg.Fallback
	}

	return cached.UnwrapOr(p.cfg.Fallback)
}

// Refresh fetches a new rate and caches it. A failed fetch leaves the
// cached rate in place until it expires.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.cfg.Source == nil || p.cfg.Cache == nil {
		return nil
	}

	rate, err := p.cfg.Source.FetchSatPerByte(ctx)
	if err != nil {
		return err
	}

	if err := p.cfg.Cache.Set(ctx, rate, p.cfg.TTL); err != nil {
		return err
	}

	log.Debugf("Fee rate updated to %v for %v", rate, p.cfg.TTL)

	return nil
}
