// Package epochs provides per-key monotonic counters. viewcache uses them as
// fetch epochs (a resolving fetch is accepted only if its epoch is still current)
// and as park generations for the cold tier.
package epochs

import (
	"context"
	"time"
)

// Counter abstracts where epochs live.
// Use Local (default) for in-process counters, or Redis to share them across replicas.
type Counter interface {
	// Current returns the current epoch; missing => 0.
	Current(ctx context.Context, key string) (uint64, error)
	// CurrentMany returns epochs for many keys; missing => 0.
	CurrentMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Advance atomically increments and returns the new epoch.
	Advance(ctx context.Context, key string) (uint64, error)
	// Forget drops keys whose epoch has not advanced within retention (no-op for Redis).
	Forget(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
