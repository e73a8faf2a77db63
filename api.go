package viewcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/viewcache/epochs"
)

// Options tune a Client. Only Fetch is required; everything else has sensible defaults.
type Options struct {
	// Required
	Fetch FetchFunc // transport collaborator; called for every read

	// Kinds pins view kinds by namespace; unlisted namespaces are classified
	// by their last path segment (detail, list/page, feed/infinite).
	Kinds map[string]ViewKind

	// Store, eviction and cold tier. Store.Logger/Store.Hooks default to
	// Logger/Hooks below.
	Store StoreOptions

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	MutationTimeout  time.Duration // 0 => no deadline beyond the caller's ctx
	ReconcileWorkers int           // parallel background refetches; 0 => 4
	ActiveOnly       bool          // reconcile observed keys only; others just go stale

	EpochCleanup   time.Duration // local epoch store sweep; 0 => 1h
	EpochRetention time.Duration // idle epoch retention; 0 => 24h
}

// Client wires the store, registrar, coordinator and scheduler together. Each
// Client is self-contained; there is no package-level state.
type Client struct {
	store  *Store
	reg    *Registrar
	coord  *Coordinator
	sched  *Scheduler
	epochs epochs.Counter
	owns   bool
	log    Logger
	closed atomic.Bool
}

func New(opts Options) (*Client, error) {
	if opts.Fetch == nil {
		return nil, ErrNoFetcher
	}
	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})

	sopts := opts.Store
	sopts.Logger = coalesce[Logger](sopts.Logger, log)
	sopts.Hooks = coalesce[Hooks](sopts.Hooks, hooks)

	c := &Client{log: log}
	if sopts.Epochs == nil {
		sopts.Epochs = epochs.NewLocal(
			coalesce(opts.EpochCleanup, time.Hour),
			coalesce(opts.EpochRetention, defaultEpochRetention),
		)
		c.owns = true
	}
	c.epochs = sopts.Epochs

	c.store = NewStore(sopts)
	c.reg = NewRegistrar(c.store, opts.Fetch, log)
	for ns, k := range opts.Kinds {
		c.reg.Register(ns, k)
	}
	c.sched = NewScheduler(c.store, c.reg, SchedulerOptions{
		Workers:    opts.ReconcileWorkers,
		ActiveOnly: opts.ActiveOnly,
		Logger:     log,
		Hooks:      hooks,
	})
	c.coord = NewCoordinator(c.store, c.sched, opts.MutationTimeout, log, hooks)
	return c, nil
}

// Key resolves a view key from a namespace and a param object.
func (c *Client) Key(namespace string, params any) Key {
	return ResolveKey(namespace, params)
}

// Get returns the cached view for key without fetching.
func (c *Client) Get(key Key) (View, bool) {
	e, ok := c.store.Get(key)
	if !ok {
		return View{}, false
	}
	return View{Kind: c.reg.Classify(key.Namespace), Entry: e}, true
}

// Fetch returns the view for key, fetching it when missing, stale or failed.
func (c *Client) Fetch(ctx context.Context, key Key) (View, error) {
	if c.closed.Load() {
		return View{}, ErrClosed
	}
	return c.reg.View(ctx, key)
}

// Refetch fetches key under a new epoch, superseding any fetch in flight.
func (c *Client) Refetch(ctx context.Context, key Key) (View, error) {
	if c.closed.Load() {
		return View{}, ErrClosed
	}
	e, err := c.reg.Refetch(ctx, key)
	return View{Kind: c.reg.Classify(key.Namespace), Entry: e}, err
}

// FetchNextPage appends the next page of an infinite list.
func (c *Client) FetchNextPage(ctx context.Context, key Key) (View, error) {
	if c.closed.Load() {
		return View{}, ErrClosed
	}
	e, err := c.reg.FetchNextPage(ctx, key)
	return View{Kind: KindInfinite, Entry: e}, err
}

// Observe subscribes fn to key and makes sure the key is fetched. A stale entry
// left behind by a failed reconciliation is refetched here. The subscription
// stays in place even when the fetch fails.
func (c *Client) Observe(ctx context.Context, key Key, fn Listener) (unsubscribe func(), err error) {
	if c.closed.Load() {
		return func() {}, ErrClosed
	}
	unsubscribe = c.store.Subscribe(key, fn)
	_, err = c.reg.EnsureFetched(ctx, key)
	return unsubscribe, err
}

// Mutate runs an optimistic mutation. See Coordinator.Mutate.
func (c *Client) Mutate(ctx context.Context, m Mutation) (*MutationRecord, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.coord.Mutate(ctx, m)
}

// Toggle flips t.Actor's membership in every view of namespace holding t.EntityID.
func (c *Client) Toggle(ctx context.Context, namespace string, t Toggle, remote RemoteFunc) (*MutationRecord, error) {
	return c.Mutate(ctx, t.Mutation(namespace, remote))
}

// Invalidate marks every matching key stale and refetches it in the background.
func (c *Client) Invalidate(pred Predicate) {
	if c.closed.Load() {
		return
	}
	c.sched.Invalidate(pred)
}

func (c *Client) Store() *Store             { return c.store }
func (c *Client) Registrar() *Registrar     { return c.reg }
func (c *Client) Coordinator() *Coordinator { return c.coord }
func (c *Client) Scheduler() *Scheduler     { return c.sched }

// Close stops background reconciliation, the sweep loop and the cold tier.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.sched.Close()
	err := c.store.Close(ctx)
	if c.owns {
		err = errors.Join(err, c.epochs.Close(ctx))
	}
	if err != nil {
		c.log.Warn("close failed", Fields{"err": err})
	}
	return err
}
