package viewcache

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SchedulerOptions tune background reconciliation.
type SchedulerOptions struct {
	Workers    int  // parallel refetches per pass; 0 => 4
	ActiveOnly bool // refetch observed keys only; the rest just go stale
	Logger     Logger
	Hooks      Hooks
}

// Scheduler restores authoritative freshness after committed mutations and
// explicit invalidations: it marks the affected closure stale, then refetches it
// in the background. Refetch failures are logged and never roll anything back.
type Scheduler struct {
	store      *Store
	reg        *Registrar
	workers    int
	activeOnly bool
	log        Logger
	hooks      Hooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex // guards closed and wg.Add against Close
	closed bool
}

var _ Reconciler = (*Scheduler)(nil)

func NewScheduler(store *Store, reg *Registrar, opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		reg:        reg,
		workers:    coalesce(opts.Workers, defaultReconcileWorkers),
		activeOnly: opts.ActiveOnly,
		log:        coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:      coalesce[Hooks](opts.Hooks, NopHooks{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Committed schedules reconciliation of a committed mutation: its affected keys
// plus every key under its entity namespace.
func (s *Scheduler) Committed(rec *MutationRecord) {
	if rec == nil || rec.Status != MutationCommitted {
		return
	}
	preds := []Predicate{Exactly(rec.AffectedKeys...)}
	if rec.Namespace != "" {
		preds = append(preds, Under(rec.Namespace))
	}
	s.schedule(AnyOf(preds...))
}

// Invalidate schedules reconciliation of every key matching pred. Other
// features use it to refresh views they do not own.
func (s *Scheduler) Invalidate(pred Predicate) {
	s.schedule(pred)
}

// Reconcile invalidates and refetches synchronously, returning every
// *ReconciliationError joined together.
func (s *Scheduler) Reconcile(ctx context.Context, pred Predicate) error {
	keys := s.store.Invalidate(pred)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, k := range keys {
		if s.activeOnly && s.store.Observers(k) == 0 {
			continue
		}
		if s.reg.Classify(k.Namespace) == KindUnknown {
			continue
		}
		k := k
		g.Go(func() error {
			if _, err := s.reg.Refetch(ctx, k); err != nil {
				rerr := &ReconciliationError{Key: k, Err: err}
				s.hooks.ReconcileFailed(k.String(), err)
				s.log.Warn("reconcile refetch failed; entry left stale", Fields{"key": k.String(), "err": err})
				mu.Lock()
				errs = append(errs, rerr)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Wait blocks until every scheduled pass has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Close cancels running passes and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) schedule(pred Predicate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Reconcile(s.ctx, pred)
	}()
}
