// Package provider defines the byte store behind the viewcache cold tier.
//
// Evicted entries are parked here as framed, encoded bytes and hydrated (as stale)
// when a view asks for them again. Implementations MUST be byte-for-byte
// transparent: Get returns exactly the []byte passed to Set for a key.
//
// The keyspace "park:<namespace>:" is owned by viewcache. Foreign writes under it
// are treated as corruption and deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
