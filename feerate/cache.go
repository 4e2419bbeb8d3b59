// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feerate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcledger/pkg/unit"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheKey is the redis key holding the cached rate.
const DefaultCacheKey = "btcledger:fee_sat_per_byte"

// Cache holds the last fetched rate until it expires.
type Cache interface {
	// Get returns the cached rate, None if there is none or it expired.
	Get(ctx context.Context) (fn.Option[unit.SatPerByte], error)

	// Set stores rate for ttl.
	Set(ctx context.Context, rate unit.SatPerByte, ttl time.Duration) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	clock clock.Clock

	mu      sync.Mutex
	rate    unit.SatPerByte
	expires time.Time
}

// A compile-time assertion to ensure that MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache that expires entries by c.
func NewMemoryCache(c clock.Clock) *MemoryCache {
	return &MemoryCache{clock: c}
}

// Get returns the rate if it has not expired.
func (m *MemoryCache) Get(context.Context) (fn.Option[unit.SatPerByte],
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rate.Rat == nil || !m.clock.Now().Before(m.expires) {
		return fn.None[unit.SatPerByte](), nil
	}

	return fn.Some(m.rate), nil
}

// Set stores the rate.
func (m *MemoryCache) Set(_ context.Context, rate unit.SatPerByte,
	ttl time.Duration) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rate = rate
	m.expires = m.clock.Now().Add(ttl)

	return nil
}

// RedisCache shares the rate between daemons through redis.
type RedisCache struct {
	client redis.UniversalClient
	key    string
}

// A compile-time assertion to ensure that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache storing the rate under key.
func NewRedisCache(client redis.UniversalClient, key string) *RedisCache {
	if key == "" {
		key = DefaultCacheKey
	}

	return &RedisCache{client: client, key: key}
}

// DialRedis connects to the redis server at addr.
func DialRedis(ctx context.Context, addr, password string) (
	redis.UniversalClient, error) {

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to reach redis at %v: %w", addr,
			err)
	}

	return client, nil
}

// Get reads the rate. Redis expires the key itself.
func (r *RedisCache) Get(ctx context.Context) (fn.Option[unit.SatPerByte],
	error) {

	s, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return fn.None[unit.SatPerByte](), nil
	}
	if err != nil {
		return fn.None[unit.SatPerByte](), err
	}

	rate, err := unit.ParseSatPerByte(s)
	if err != nil {
		return fn.None[unit.SatPerByte](), fmt.Errorf("cached %v: %w",
			r.key, err)
	}

	return fn.Some(rate), nil
}

// Set writes the rate with an expiry of ttl.
func (r *RedisCache) Set(ctx context.Context, rate unit.SatPerByte,
	ttl time.Duration) error {

	return r.client.Set(ctx, r.key, rate.RatString(), ttl).Err()
}
