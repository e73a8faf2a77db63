package viewcache

import (
	"context"
	"sync"
	"time"

	c "github.com/unkn0wn-root/viewcache/codec"
	"github.com/unkn0wn-root/viewcache/epochs"
	"github.com/unkn0wn-root/viewcache/internal/util"
	"github.com/unkn0wn-root/viewcache/internal/wire"
	pr "github.com/unkn0wn-root/viewcache/provider"
)

// parking is the cold tier: evicted entries are framed, encoded and stored in a
// Provider under a per-key park generation. Invalidation bumps the generation,
// so a frame parked before it is rejected (and deleted) on hydrate.
type parking struct {
	provider pr.Provider
	codec    c.Codec[Data]
	gens     epochs.Counter
	ttl      time.Duration
	cost     func(string, []byte) int64
	log      Logger
	hooks    Hooks

	mu    sync.Mutex
	index map[Key]struct{}
}

type parkedEntry struct {
	Data      Data
	Version   uint64
	UpdatedAt time.Time
}

func newParking(opts StoreOptions, gens epochs.Counter, log Logger, hooks Hooks) *parking {
	p := &parking{
		provider: opts.Provider,
		codec:    opts.Codec,
		gens:     gens,
		ttl:      coalesce(opts.ParkTTL, defaultParkTTL),
		cost:     opts.ComputeCost,
		log:      log,
		hooks:    hooks,
		index:    make(map[Key]struct{}),
	}
	if p.codec == nil {
		p.codec = c.JSON[Data]{}
	}
	if p.cost == nil {
		p.cost = func(_ string, frame []byte) int64 { return int64(len(frame)) }
	}
	return p
}

func (p *parking) storageKey(k Key) string {
	return util.Digest("park:"+k.Namespace, k.Params)
}

func parkGenKey(k Key) string { return "park:" + k.String() }

func frameKind(d Data) byte {
	switch {
	case d.Record != nil:
		return wire.KindDetail
	case len(d.Pages) == 1:
		return wire.KindList
	default:
		return wire.KindFeed
	}
}

func (p *parking) put(ctx context.Context, e Entry) {
	gen, err := p.gens.Current(ctx, parkGenKey(e.Key))
	if err != nil {
		p.log.Warn("park gen snapshot failed; entry dropped", Fields{"key": e.Key.String(), "err": err})
		return
	}
	payload, err := p.codec.Encode(e.Data)
	if err != nil {
		p.log.Warn("park encode failed; entry dropped", Fields{"key": e.Key.String(), "err": err})
		return
	}
	frame := wire.Encode(wire.Frame{
		Kind:      frameKind(e.Data),
		Gen:       gen,
		Version:   e.Version,
		UpdatedAt: e.UpdatedAt.UnixNano(),
		Payload:   payload,
	})
	sk := p.storageKey(e.Key)
	ok, err := p.provider.Set(ctx, sk, frame, p.cost(sk, frame), p.ttl)
	if err != nil {
		p.log.Warn("park set failed", Fields{"key": e.Key.String(), "err": err})
		return
	}
	if !ok {
		p.hooks.ProviderSetRejected(sk)
		p.log.Debug("park set rejected by provider (pressure)", Fields{"key": e.Key.String()})
		return
	}
	p.mu.Lock()
	p.index[e.Key] = struct{}{}
	p.mu.Unlock()
}

// take reads and removes the parked frame for k. Invalid frames self-heal.
func (p *parking) take(ctx context.Context, k Key) (parkedEntry, bool) {
	sk := p.storageKey(k)
	raw, ok, err := p.provider.Get(ctx, sk)
	if err != nil || !ok {
		if err != nil {
			p.log.Warn("park get failed", Fields{"key": k.String(), "err": err})
		}
		p.forget(k)
		return parkedEntry{}, false
	}

	drop := func(reason string) (parkedEntry, bool) {
		_ = p.provider.Del(ctx, sk)
		p.forget(k)
		p.hooks.SelfHealParked(sk, reason)
		return parkedEntry{}, false
	}

	f, err := wire.Decode(raw)
	if err != nil {
		return drop("corrupt")
	}
	gen, err := p.gens.Current(ctx, parkGenKey(k))
	if err != nil || gen != f.Gen {
		return drop("gen_mismatch")
	}
	data, err := p.codec.Decode(f.Payload)
	if err != nil {
		return drop("value_decode")
	}

	_ = p.provider.Del(ctx, sk)
	p.forget(k)
	return parkedEntry{Data: data, Version: f.Version, UpdatedAt: time.Unix(0, f.UpdatedAt)}, true
}

// invalidate bumps the park generation of every matching parked key and
// deletes its frame best-effort.
func (p *parking) invalidate(ctx context.Context, pred Predicate) {
	p.mu.Lock()
	var keys []Key
	for k := range p.index {
		if pred(k) {
			keys = append(keys, k)
			delete(p.index, k)
		}
	}
	p.mu.Unlock()

	for _, k := range keys {
		_, bumpErr := p.gens.Advance(ctx, parkGenKey(k))
		delErr := p.provider.Del(ctx, p.storageKey(k))
		if bumpErr != nil || delErr != nil {
			err := &ParkError{Key: k.String(), BumpErr: bumpErr, DelErr: delErr}
			p.log.Error("parked entry invalidation failed", Fields{"key": k.String(), "err": err})
		}
	}
}

func (p *parking) forget(k Key) {
	p.mu.Lock()
	delete(p.index, k)
	p.mu.Unlock()
}

func (p *parking) parked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.index)
}

func (p *parking) close(ctx context.Context) error {
	return p.provider.Close(ctx)
}
