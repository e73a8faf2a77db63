package viewcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MutationStatus is the lifecycle state of a MutationRecord.
type MutationStatus uint8

const (
	MutationPending MutationStatus = iota
	MutationCommitted
	MutationRolledBack
)

func (s MutationStatus) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationCommitted:
		return "committed"
	case MutationRolledBack:
		return "rolledback"
	default:
		return "unknown"
	}
}

// MutationRecord describes one optimistic mutation. PreSnapshots holds the
// verbatim entry of every affected key that had data when the mutation applied;
// affected keys without data were not written and need no snapshot.
type MutationRecord struct {
	ID           string
	EntityID     string
	Namespace    string
	AffectedKeys []Key
	PreSnapshots map[Key]Entry
	Status       MutationStatus
	// Response is the remote result of a committed mutation.
	Response Response
}

// KeySelector picks the affected keys out of every live key.
type KeySelector func(keys []Key) []Key

// Select turns a predicate into a KeySelector.
func Select(pred Predicate) KeySelector {
	return func(keys []Key) []Key {
		var out []Key
		for _, k := range keys {
			if pred(k) {
				out = append(out, k)
			}
		}
		return out
	}
}

// Optimistic plans the speculative write from the entries about to be touched.
// A plain Transform plans itself.
type Optimistic interface {
	Plan(current []Entry) Transform
}

func (t Transform) Plan([]Entry) Transform { return t }

// RemoteFunc performs the server-side write.
type RemoteFunc func(ctx context.Context) (Response, error)

// Mutation is one user action.
type Mutation struct {
	EntityID string
	// Namespace is the entity namespace ("events"). It scopes the default
	// selector and the reconciliation closure.
	Namespace  string
	Select     KeySelector // nil => keys under Namespace holding EntityID
	Optimistic Optimistic  // nil => no speculative write
	Remote     RemoteFunc
}

// Reconciler receives committed mutations.
type Reconciler interface {
	Committed(rec *MutationRecord)
}

var errNoRemote = errors.New("viewcache: mutation has no remote call")

// Coordinator applies optimistic writes and settles them against the server.
// Mutations on one entity run strictly one after another, in arrival order.
type Coordinator struct {
	store      *Store
	reconciler Reconciler
	timeout    time.Duration
	log        Logger
	hooks      Hooks

	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	waiters []chan struct{}
}

// NewCoordinator builds a coordinator. reconciler may be nil; timeout <= 0
// leaves deadlines to the caller's context.
func NewCoordinator(store *Store, reconciler Reconciler, timeout time.Duration, log Logger, hooks Hooks) *Coordinator {
	return &Coordinator{
		store:      store,
		reconciler: reconciler,
		timeout:    timeout,
		log:        coalesce[Logger](log, NopLogger{}),
		hooks:      coalesce[Hooks](hooks, NopHooks{}),
		lanes:      make(map[string]*lane),
	}
}

// Mutate runs m: wait for the entity's lane, snapshot and apply the speculative
// transform, call the server, then commit or restore every snapshot.
// A rejected remote call (deadline included) returns *MutationError.
func (c *Coordinator) Mutate(ctx context.Context, m Mutation) (*MutationRecord, error) {
	if m.Remote == nil {
		return nil, errNoRemote
	}
	release, err := c.acquire(ctx, m.EntityID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := &MutationRecord{
		ID:           uuid.NewString(),
		EntityID:     m.EntityID,
		Namespace:    m.Namespace,
		PreSnapshots: map[Key]Entry{},
		Status:       MutationPending,
	}
	sel := m.Select
	if sel == nil {
		sel = c.holding(m.Namespace, m.EntityID)
	}
	if m.Namespace != "" || m.Select != nil {
		rec.AffectedKeys = sel(c.store.Keys())
	}

	if m.Optimistic != nil && len(rec.AffectedKeys) > 0 {
		current := make([]Entry, 0, len(rec.AffectedKeys))
		for _, k := range rec.AffectedKeys {
			if e, ok := c.store.Get(k); ok && e.HasData() {
				current = append(current, e)
			}
		}
		if t := m.Optimistic.Plan(current); t != nil {
			rec.PreSnapshots = c.store.Apply(ctx, rec.AffectedKeys, t)
		}
	}

	rctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := m.Remote(rctx)
	if err != nil {
		c.store.Restore(m.EntityID, rec.PreSnapshots)
		rec.Status = MutationRolledBack
		c.hooks.MutationRolledBack(m.EntityID, len(rec.PreSnapshots), err)
		c.log.Warn("mutation rolled back", Fields{"entity": m.EntityID, "mutation": rec.ID, "keys": len(rec.PreSnapshots), "err": err})
		return rec, &MutationError{EntityID: m.EntityID, MutationID: rec.ID, Err: err}
	}

	rec.Status = MutationCommitted
	rec.Response = resp
	if srv, ok := serverRecord(resp); ok && len(rec.AffectedKeys) > 0 {
		// the server's view of the entity replaces the optimistic guess right away
		c.store.Apply(ctx, rec.AffectedKeys, mergeRecord(srv))
	}
	c.log.Debug("mutation committed", Fields{"entity": m.EntityID, "mutation": rec.ID, "keys": len(rec.AffectedKeys)})
	if c.reconciler != nil {
		c.reconciler.Committed(rec)
	}
	return rec, nil
}

// holding is the default selector: keys under namespace whose data carries the
// entity. Without an entity id every key under namespace is picked.
func (c *Coordinator) holding(namespace, entityID string) KeySelector {
	under := Select(Under(namespace))
	if entityID == "" {
		return under
	}
	return func(keys []Key) []Key {
		return c.store.Holding(under(keys), entityID)
	}
}

// Pending is the number of mutations running or queued for entityID.
func (c *Coordinator) Pending(entityID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[entityID]
	if !ok {
		return 0
	}
	return 1 + len(l.waiters)
}

func (c *Coordinator) acquire(ctx context.Context, id string) (func(), error) {
	release := func() { c.release(id) }

	c.mu.Lock()
	l, busy := c.lanes[id]
	if !busy {
		c.lanes[id] = &lane{}
		c.mu.Unlock()
		return release, nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return release, nil
	case <-ctx.Done():
		c.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				c.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		c.mu.Unlock()
		// the lane was handed to us while ctx expired; pass it on
		c.release(id)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[id]
	if !ok {
		return
	}
	if len(l.waiters) == 0 {
		delete(c.lanes, id)
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

func serverRecord(resp Response) (Record, bool) {
	switch t := resp.(type) {
	case Record:
		return t, t.ID() != ""
	case RawJSON:
		rec, err := NormalizeRecord(t)
		if err != nil {
			return nil, false
		}
		return rec, rec.ID() != ""
	default:
		return nil, false
	}
}

// mergeRecord overlays the server's fields on every cached copy of the entity.
// Fields only present in a list projection survive.
func mergeRecord(srv Record) Transform {
	id := srv.ID()
	return func(d Data) Data {
		return d.MapRecords(id, func(r Record) Record {
			for k, v := range srv {
				r[k] = cloneValue(v)
			}
			return r
		})
	}
}
