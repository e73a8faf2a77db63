package viewcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow sinks with hooks/async.
type Hooks interface {
	// A fetch resolved after a newer epoch started; its result was dropped.
	FetchSuperseded(key string, epoch uint64)

	// A fetch failed. hadData reports whether the entry kept previous ready data.
	FetchFailed(key string, hadData bool, err error)

	// A mutation's remote call failed and its snapshots were restored.
	MutationRolledBack(entityID string, keys int, err error)

	// A background refetch after a committed mutation failed. Not rolled back.
	ReconcileFailed(key string, err error)

	// A parked entry was dropped on hydrate.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHealParked(storageKey, reason string)

	// Provider returned ok=false when parking an entry (backpressure/eviction).
	ProviderSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchSuperseded(string, uint64)        {}
func (NopHooks) FetchFailed(string, bool, error)       {}
func (NopHooks) MutationRolledBack(string, int, error) {}
func (NopHooks) ReconcileFailed(string, error)         {}
func (NopHooks) SelfHealParked(string, string)         {}
func (NopHooks) ProviderSetRejected(string)            {}
