// Package redisgate provides a Redis-backed suppression gate for
// multi-instance ingest. Where the in-process engine owns the window
// state for a single replica, the gate reserves windows atomically in
// Redis so replicas sharing an alert stream agree on which alert opened
// a window.
package redisgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "quell:suppress:"

// Gate reserves suppression windows in Redis via SET NX PX. Keys expire
// on their own, so unlike the in-process engine the state is bounded.
type Gate struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Gate {
	return &Gate{client: client}
}

// FromURL connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func FromURL(ctx context.Context, url string) (*Gate, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisgate: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisgate: ping: %w", err)
	}
	return &Gate{client: client}, nil
}

// Allow reports whether an alert with the given fingerprint survives.
// The first caller for a fingerprint wins the reservation and opens the
// window; callers inside the window are suppressed. A non-positive
// window disables suppression, matching the engine's no-op policy.
func (g *Gate) Allow(ctx context.Context, fingerprint string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, keyPrefix+fingerprint, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redisgate: reserve %s: %w", fingerprint, err)
	}
	return ok, nil
}

// Close releases the underlying Redis connection.
func (g *Gate) Close() error {
	return g.client.Close()
}
