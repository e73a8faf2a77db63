package viewcache

import (
	"context"
	"sort"
	"sync"
	"time"

	c "github.com/unkn0wn-root/viewcache/codec"
	"github.com/unkn0wn-root/viewcache/epochs"
	pr "github.com/unkn0wn-root/viewcache/provider"
)

// Status is the load state of an entry.
type Status uint8

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is the stored value and bookkeeping for one Key.
type Entry struct {
	Key    Key
	Data   Data
	Status Status
	// Stale entries stay renderable; the next EnsureFetched refetches them.
	Stale bool
	// Fetching is set while a fetch owns the entry's next write.
	Fetching bool
	// Version increments on every accepted data write.
	Version    uint64
	FetchEpoch uint64
	Err        error
	UpdatedAt  time.Time
}

// HasData reports whether the entry holds renderable data.
func (e Entry) HasData() bool { return !e.Data.IsZero() }

// Listener receives the entry after every observable change.
type Listener func(Entry)

// Transform computes the speculative data of one view. It must not mutate its
// argument; Data.MapRecords hands out clones for that purpose.
type Transform func(Data) Data

type slot struct {
	entry     Entry
	listeners map[uint64]Listener
	touched   time.Time
}

type notice struct {
	entry     Entry
	listeners []Listener
}

// StoreOptions configure a Store. All fields are optional.
type StoreOptions struct {
	Epochs      epochs.Counter // nil => epochs.Local without cleanup
	Provider    pr.Provider    // nil => evicted entries are dropped
	Codec       c.Codec[Data]  // nil => codec.JSON
	ParkTTL     time.Duration  // 0 => 30m
	ComputeCost func(storageKey string, frame []byte) int64

	IdleTimeout   time.Duration // 0 => 5m
	SweepInterval time.Duration // 0 => 1m; < 0 disables the background sweep

	Logger Logger
	Hooks  Hooks
	Now    func() time.Time
}

// Store holds at most one Entry per Key. It never fetches; the Registrar and
// Coordinator tell it what to hold.
type Store struct {
	mu      sync.Mutex
	slots   map[Key]*slot
	nextSub uint64

	epochs     epochs.Counter
	ownsEpochs bool
	park       *parking
	log        Logger
	hooks      Hooks
	now        func() time.Time
	idle       time.Duration

	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func NewStore(opts StoreOptions) *Store {
	s := &Store{
		slots:  make(map[Key]*slot),
		epochs: opts.Epochs,
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:  coalesce[Hooks](opts.Hooks, NopHooks{}),
		now:    opts.Now,
		idle:   coalesce(opts.IdleTimeout, defaultIdleTimeout),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.epochs == nil {
		s.epochs = epochs.NewLocal(0, 0)
		s.ownsEpochs = true
	}
	if opts.Provider != nil {
		s.park = newParking(opts, s.epochs, s.log, s.hooks)
	}

	interval := coalesce(opts.SweepInterval, defaultSweep)
	if interval > 0 {
		s.ticker = time.NewTicker(interval)
		s.stopCh = make(chan struct{})
		s.closeWg.Add(1)
		go s.sweepLoop()
	}
	return s
}

// Close stops the sweep loop and releases the cold tier.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.closeWg.Wait()
			s.ticker.Stop()
		}
		if s.ownsEpochs {
			_ = s.epochs.Close(ctx)
		}
		if s.park != nil {
			err = s.park.close(ctx)
		}
	})
	return err
}

// Get returns the entry for key.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		return Entry{}, false
	}
	sl.touched = s.now()
	return sl.entry, true
}

// Set writes authoritative data: version bump, status ready, staleness and error cleared.
func (s *Store) Set(key Key, data Data) Entry {
	s.mu.Lock()
	sl := s.slotLocked(key)
	s.writeLocked(sl, data)
	n := s.noticeLocked(sl)
	s.mu.Unlock()

	n.fire()
	return n.entry
}

// Invalidate marks every matching entry stale without touching its data, and
// drops matching parked copies. It returns the matched live keys.
func (s *Store) Invalidate(pred Predicate) []Key {
	var keys []Key
	var notices []notice
	s.mu.Lock()
	for k, sl := range s.slots {
		if !pred(k) {
			continue
		}
		keys = append(keys, k)
		if !sl.entry.Stale {
			sl.entry.Stale = true
			notices = append(notices, s.noticeLocked(sl))
		}
	}
	s.mu.Unlock()

	if s.park != nil {
		s.park.invalidate(context.Background(), pred)
	}
	for _, n := range notices {
		n.fire()
	}
	sortKeys(keys)
	s.log.Debug("invalidated entries", Fields{"count": len(keys)})
	return keys
}

// Keys returns every live key in a stable order.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.slots))
	for k := range s.slots {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sortKeys(keys)
	return keys
}

// Parked is the number of entries currently parked in the cold tier.
func (s *Store) Parked() int {
	if s.park == nil {
		return 0
	}
	return s.park.parked()
}

// Len is the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Remove drops the entry for key. Observed entries are kept.
func (s *Store) Remove(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok || len(sl.listeners) > 0 {
		return false
	}
	delete(s.slots, key)
	return true
}

// Subscribe registers fn for key; fn runs after every change of the entry,
// outside the store lock. An observed key is never evicted.
func (s *Store) Subscribe(key Key, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	sl := s.slotLocked(key)
	s.nextSub++
	id := s.nextSub
	if sl.listeners == nil {
		sl.listeners = make(map[uint64]Listener)
	}
	sl.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if sl, ok := s.slots[key]; ok {
				delete(sl.listeners, id)
				sl.touched = s.now()
			}
			s.mu.Unlock()
		})
	}
}

// Observers is the number of listeners on key.
func (s *Store) Observers(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[key]; ok {
		return len(sl.listeners)
	}
	return 0
}

// BeginFetch starts a new fetch epoch for key. Only a completion carrying the
// latest epoch is accepted; any older in-flight fetch is thereby abandoned.
// The entry's own epoch is authoritative: a counter that was reset or expired
// never yields an epoch at or below it.
func (s *Store) BeginFetch(ctx context.Context, key Key) uint64 {
	epoch, err := s.epochs.Advance(ctx, fetchEpochKey(key))
	if err != nil {
		s.log.Warn("epoch advance failed; using local epoch", Fields{"key": key.String(), "err": err})
		epoch = 0
	}

	s.mu.Lock()
	sl := s.slotLocked(key)
	e := &sl.entry
	s.supersedeLocked(sl, epoch)
	epoch = e.FetchEpoch
	e.Fetching = true
	if !e.HasData() {
		e.Status = StatusLoading
	}
	n := s.noticeLocked(sl)
	s.mu.Unlock()

	n.fire()
	return epoch
}

// CompleteFetch accepts a fetch result iff epoch is still the entry's current
// epoch. merge receives the current data and returns the data to store.
func (s *Store) CompleteFetch(key Key, epoch uint64, merge func(prev Data) Data) (Entry, bool) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok || sl.entry.FetchEpoch != epoch {
		var cur Entry
		if ok {
			cur = sl.entry
		}
		s.mu.Unlock()
		s.hooks.FetchSuperseded(key.String(), epoch)
		s.log.Debug("fetch result discarded (superseded)", Fields{"key": key.String(), "epoch": epoch})
		return cur, false
	}
	s.writeLocked(sl, merge(sl.entry.Data))
	n := s.noticeLocked(sl)
	s.mu.Unlock()

	n.fire()
	return n.entry, true
}

// FailFetch records a fetch error for the current epoch. Entries with data
// keep it and stay ready; entries without data move to StatusError.
func (s *Store) FailFetch(key Key, epoch uint64, ferr error) (Entry, bool) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok || sl.entry.FetchEpoch != epoch {
		var cur Entry
		if ok {
			cur = sl.entry
		}
		s.mu.Unlock()
		return cur, false
	}
	e := &sl.entry
	e.Fetching = false
	e.Err = ferr
	hadData := e.HasData()
	if hadData {
		e.Status = StatusReady
	} else {
		e.Status = StatusError
	}
	n := s.noticeLocked(sl)
	s.mu.Unlock()

	s.hooks.FetchFailed(key.String(), hadData, ferr)
	n.fire()
	return n.entry, true
}

// Apply snapshots every key that holds data, supersedes its in-flight fetch and
// writes t(data), all under one lock. Keys without data are left alone.
// The returned snapshots are the verbatim pre-apply entries.
func (s *Store) Apply(ctx context.Context, keys []Key, t Transform) map[Key]Entry {
	// advance epochs outside the lock; the counter may be remote
	fresh := make(map[Key]uint64, len(keys))
	for _, k := range keys {
		if ep, err := s.epochs.Advance(ctx, fetchEpochKey(k)); err == nil {
			fresh[k] = ep
		}
	}

	snaps := make(map[Key]Entry, len(keys))
	notices := make([]notice, 0, len(keys))
	s.mu.Lock()
	for _, k := range keys {
		sl, ok := s.slots[k]
		if !ok || !sl.entry.HasData() {
			continue
		}
		snaps[k] = sl.entry
		s.supersedeLocked(sl, fresh[k])
		s.writeLocked(sl, t(sl.entry.Data))
		notices = append(notices, s.noticeLocked(sl))
	}
	s.mu.Unlock()

	for _, n := range notices {
		n.fire()
	}
	return snaps
}

// Restore puts every snapshot back in one step. An entry untouched since Apply
// gets its data, status, staleness and error back verbatim. An entry another
// writer changed since then (a second mutation, a completed fetch) only gets
// entityID's records back, so the other writer's changes survive. Either way
// the version moves forward so observers re-render, and the current fetch epoch
// is kept so superseded fetches stay abandoned.
func (s *Store) Restore(entityID string, snaps map[Key]Entry) {
	notices := make([]notice, 0, len(snaps))
	s.mu.Lock()
	for k, snap := range snaps {
		sl := s.slotLocked(k)
		cur := sl.entry
		e := snap
		// Apply bumps the version exactly once
		if moved := cur.Version != snap.Version+1; moved && entityID != "" && cur.HasData() {
			e = cur
			if rec, ok := snap.Data.FindRecord(entityID); ok {
				e.Data = cur.Data.MapRecords(entityID, func(Record) Record { return rec.clone() })
			}
		}
		e.Version = cur.Version + 1
		e.FetchEpoch = cur.FetchEpoch
		e.Fetching = false
		if snap.Fetching {
			// the fetch it was waiting on got superseded by the mutation
			e.Stale = true
		}
		e.UpdatedAt = s.now()
		sl.entry = e
		sl.touched = e.UpdatedAt
		notices = append(notices, s.noticeLocked(sl))
	}
	s.mu.Unlock()

	for _, n := range notices {
		n.fire()
	}
}

// Holding narrows keys to those whose data carries entityID.
func (s *Store) Holding(keys []Key, entityID string) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Key
	for _, k := range keys {
		if sl, ok := s.slots[k]; ok {
			if _, found := sl.entry.Data.FindRecord(entityID); found {
				out = append(out, k)
			}
		}
	}
	return out
}

// Sweep evicts unobserved, idle entries, parking them in the cold tier when one
// is configured. It returns the number of evicted entries.
func (s *Store) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.idle)
	var evicted []Entry

	s.mu.Lock()
	for k, sl := range s.slots {
		if len(sl.listeners) > 0 || sl.entry.Fetching || sl.touched.After(cutoff) {
			continue
		}
		evicted = append(evicted, sl.entry)
		delete(s.slots, k)
	}
	s.mu.Unlock()

	if s.park != nil {
		for _, e := range evicted {
			if e.HasData() {
				s.park.put(ctx, e)
			}
		}
	}
	if len(evicted) > 0 {
		s.log.Debug("evicted idle entries", Fields{"count": len(evicted), "parked": s.park != nil})
	}
	return len(evicted)
}

// Hydrate moves a parked entry back into the store, marked stale. It is a no-op
// returning false when the key is live, nothing is parked, or the frame is invalid.
func (s *Store) Hydrate(ctx context.Context, key Key) (Entry, bool) {
	if s.park == nil {
		return Entry{}, false
	}
	s.mu.Lock()
	if sl, ok := s.slots[key]; ok && sl.entry.HasData() {
		s.mu.Unlock()
		return Entry{}, false
	}
	s.mu.Unlock()

	parked, ok := s.park.take(ctx, key)
	if !ok {
		return Entry{}, false
	}

	s.mu.Lock()
	sl := s.slotLocked(key)
	if sl.entry.HasData() {
		// a fetch landed while we were reading the cold tier
		s.mu.Unlock()
		return Entry{}, false
	}
	e := &sl.entry
	e.Data = parked.Data
	e.Status = StatusReady
	e.Stale = true
	e.Err = nil
	if parked.Version > e.Version {
		e.Version = parked.Version
	}
	e.UpdatedAt = parked.UpdatedAt
	n := s.noticeLocked(sl)
	s.mu.Unlock()

	n.fire()
	return n.entry, true
}

func (s *Store) sweepLoop() {
	defer s.closeWg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) slotLocked(key Key) *slot {
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{entry: Entry{Key: key, Status: StatusIdle}}
		s.slots[key] = sl
	}
	sl.touched = s.now()
	return sl
}

func (s *Store) writeLocked(sl *slot, data Data) {
	e := &sl.entry
	e.Data = data
	e.Status = StatusReady
	e.Stale = false
	e.Fetching = false
	e.Err = nil
	e.Version++
	e.UpdatedAt = s.now()
	sl.touched = e.UpdatedAt
}

func (s *Store) supersedeLocked(sl *slot, epoch uint64) {
	e := &sl.entry
	if epoch <= e.FetchEpoch {
		epoch = e.FetchEpoch + 1
	}
	e.FetchEpoch = epoch
	e.Fetching = false
}

func (s *Store) noticeLocked(sl *slot) notice {
	n := notice{entry: sl.entry}
	if len(sl.listeners) > 0 {
		n.listeners = make([]Listener, 0, len(sl.listeners))
		for _, fn := range sl.listeners {
			n.listeners = append(n.listeners, fn)
		}
	}
	return n
}

func (n notice) fire() {
	for _, fn := range n.listeners {
		fn(n.entry)
	}
}

func fetchEpochKey(k Key) string { return "fetch:" + k.String() }

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Namespace != keys[j].Namespace {
			return keys[i].Namespace < keys[j].Namespace
		}
		return keys[i].Params < keys[j].Params
	})
}
