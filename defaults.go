package viewcache

import "time"

const (
	defaultIdleTimeout      = 5 * time.Minute
	defaultSweep            = time.Minute
	defaultParkTTL          = 30 * time.Minute
	defaultReconcileWorkers = 4
	defaultEpochRetention   = 24 * time.Hour
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
