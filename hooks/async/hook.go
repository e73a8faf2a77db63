// Package asynchook runs viewcache hooks on a bounded worker queue so slow
// sinks never block the store or the coordinator. Events are dropped when the
// queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SupersededEvery: 10, // sample logs: ~every 10th superseded fetch
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := viewcache.New(viewcache.Options{
//	    Fetch: fetch,
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/viewcache"
)

type Hooks struct {
	inner   viewcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ viewcache.Hooks = (*Hooks)(nil)

func New(inner viewcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchSuperseded(k string, e uint64) { h.try(func() { h.inner.FetchSuperseded(k, e) }) }
func (h *Hooks) FetchFailed(k string, had bool, err error) {
	h.try(func() { h.inner.FetchFailed(k, had, err) })
}
func (h *Hooks) MutationRolledBack(id string, n int, err error) {
	h.try(func() { h.inner.MutationRolledBack(id, n, err) })
}
func (h *Hooks) ReconcileFailed(k string, err error) { h.try(func() { h.inner.ReconcileFailed(k, err) }) }
func (h *Hooks) SelfHealParked(k, r string)          { h.try(func() { h.inner.SelfHealParked(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)        { h.try(func() { h.inner.ProviderSetRejected(k) }) }
