package viewcache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ViewKind classifies what a namespace's entries look like.
type ViewKind uint8

const (
	KindUnknown ViewKind = iota
	KindDetail
	KindListPage
	KindInfinite
)

func (k ViewKind) String() string {
	switch k {
	case KindDetail:
		return "detail"
	case KindListPage:
		return "list"
	case KindInfinite:
		return "infinite"
	default:
		return "unknown"
	}
}

// FetchRequest is handed to the FetchFunc. Continuation is zero except when
// loading a follow-up page of an infinite list.
type FetchRequest struct {
	Key          Key
	Kind         ViewKind
	Continuation Continuation
}

// FetchFunc is the transport collaborator. It returns a Record for detail
// views and a page shape (or RawJSON) for lists.
type FetchFunc func(ctx context.Context, req FetchRequest) (Response, error)

// Registrar resolves keys, classifies namespaces and owns every fetch.
type Registrar struct {
	store *Store
	fetch FetchFunc
	log   Logger

	mu    sync.RWMutex
	kinds map[string]ViewKind

	flight singleflight.Group
	seq    atomic.Uint64

	feedMu sync.Mutex
	feeds  map[Key]*feedLock
}

type feedLock struct {
	mu   sync.Mutex
	refs int
}

func NewRegistrar(store *Store, fetch FetchFunc, log Logger) *Registrar {
	return &Registrar{
		store: store,
		fetch: fetch,
		log:   coalesce[Logger](log, NopLogger{}),
		kinds: make(map[string]ViewKind),
		feeds: make(map[Key]*feedLock),
	}
}

// ResolveKey is the package-level ResolveKey; here for call-site symmetry.
func (r *Registrar) ResolveKey(namespace string, params any) Key {
	return ResolveKey(namespace, params)
}

// Register pins the kind of a namespace, overriding the naming convention.
func (r *Registrar) Register(namespace string, kind ViewKind) {
	r.mu.Lock()
	r.kinds[namespace] = kind
	r.mu.Unlock()
}

// Classify returns the registered kind of namespace, or infers it from the last
// path segment: detail; list or page; feed or infinite.
func (r *Registrar) Classify(namespace string) ViewKind {
	r.mu.RLock()
	k, ok := r.kinds[namespace]
	r.mu.RUnlock()
	if ok {
		return k
	}
	last := namespace
	if i := strings.LastIndexByte(namespace, '/'); i >= 0 {
		last = namespace[i+1:]
	}
	switch last {
	case "detail":
		return KindDetail
	case "list", "page":
		return KindListPage
	case "feed", "infinite":
		return KindInfinite
	default:
		return KindUnknown
	}
}

// EnsureFetched returns a fresh entry as-is. Missing, stale or failed entries
// are fetched under a new epoch; concurrent callers for one key share the fetch,
// and a caller giving up does not cancel it for the others.
// A parked copy, if any, is hydrated first so there is something to render.
func (r *Registrar) EnsureFetched(ctx context.Context, key Key) (Entry, error) {
	e, ok := r.store.Get(key)
	if ok && e.HasData() && !e.Stale && e.Status == StatusReady {
		return e, nil
	}
	if !ok || !e.HasData() {
		r.store.Hydrate(ctx, key)
	}
	// the shared fetch outlives any single caller; each caller waits on its own ctx
	ch := r.flight.DoChan(key.String(), func() (any, error) {
		return r.fetchNow(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		ent, _ := res.Val.(Entry)
		return ent, res.Err
	case <-ctx.Done():
		cur, _ := r.store.Get(key)
		return cur, ctx.Err()
	}
}

// Refetch always starts a new epoch, abandoning any fetch in flight for key.
func (r *Registrar) Refetch(ctx context.Context, key Key) (Entry, error) {
	return r.fetchNow(ctx, key)
}

// FetchNextPage appends the next page of an infinite list. Calls for the same
// list are serialized, so pages land strictly in request order. Without a
// first page it loads the first page instead.
func (r *Registrar) FetchNextPage(ctx context.Context, key Key) (Entry, error) {
	if r.Classify(key.Namespace) != KindInfinite {
		return Entry{}, &FetchError{Key: key, Err: ErrNotInfinite}
	}
	unlock := r.lockFeed(key)
	defer unlock()

	e, ok := r.store.Get(key)
	if !ok || !e.HasData() {
		return r.EnsureFetched(ctx, key)
	}
	if !e.Data.HasNext() {
		return e, nil
	}
	cont := e.Data.Continuation()

	epoch := r.store.BeginFetch(ctx, key)
	page, err := r.fetchPage(ctx, key, cont)
	if err != nil {
		cur, _ := r.store.FailFetch(key, epoch, err)
		return cur, &FetchError{Key: key, Err: err}
	}
	cur, _ := r.store.CompleteFetch(key, epoch, func(prev Data) Data {
		if prev.Continuation() != cont {
			// the list was replaced while this page was in flight
			return prev
		}
		return AppendPage(prev, page)
	})
	return cur, nil
}

// View ensures key is fetched and wraps the entry with its kind.
func (r *Registrar) View(ctx context.Context, key Key) (View, error) {
	e, err := r.EnsureFetched(ctx, key)
	return View{Kind: r.Classify(key.Namespace), Entry: e}, err
}

func (r *Registrar) fetchNow(ctx context.Context, key Key) (Entry, error) {
	if r.fetch == nil {
		return Entry{}, ErrNoFetcher
	}
	kind := r.Classify(key.Namespace)
	switch kind {
	case KindUnknown:
		return Entry{}, &FetchError{Key: key, Err: ErrUnknownView}
	case KindInfinite:
		return r.refetchFeed(ctx, key)
	}

	epoch := r.store.BeginFetch(ctx, key)
	data, err := r.fetchData(ctx, key, kind)
	if err != nil {
		cur, _ := r.store.FailFetch(key, epoch, err)
		r.log.Debug("fetch failed", Fields{"key": key.String(), "err": err})
		return cur, &FetchError{Key: key, Err: err}
	}
	cur, _ := r.store.CompleteFetch(key, epoch, func(Data) Data { return data })
	return cur, nil
}

func (r *Registrar) fetchData(ctx context.Context, key Key, kind ViewKind) (Data, error) {
	resp, err := r.fetch(ctx, FetchRequest{Key: key, Kind: kind})
	if err != nil {
		return Data{}, err
	}
	if kind == KindDetail {
		rec, err := NormalizeRecord(resp)
		if err != nil {
			return Data{}, err
		}
		return Data{Record: rec}, nil
	}
	page, err := NormalizePage(resp)
	if err != nil {
		return Data{}, err
	}
	page.Seq = r.seq.Add(1)
	return Data{Pages: []Page{page}}, nil
}

// refetchFeed reloads an infinite list from its first page, following
// continuations up to the number of pages previously loaded.
func (r *Registrar) refetchFeed(ctx context.Context, key Key) (Entry, error) {
	want := 1
	if prev, ok := r.store.Get(key); ok && len(prev.Data.Pages) > want {
		want = len(prev.Data.Pages)
	}

	epoch := r.store.BeginFetch(ctx, key)
	pages := make([]Page, 0, want)
	var cont Continuation
	for i := 0; i < want; i++ {
		page, err := r.fetchPage(ctx, key, cont)
		if err != nil {
			cur, _ := r.store.FailFetch(key, epoch, err)
			return cur, &FetchError{Key: key, Err: err}
		}
		pages = append(pages, page)
		if !page.Continuation.HasNext() {
			break
		}
		cont = page.Continuation
	}
	cur, _ := r.store.CompleteFetch(key, epoch, func(Data) Data { return Data{Pages: pages} })
	return cur, nil
}

func (r *Registrar) fetchPage(ctx context.Context, key Key, cont Continuation) (Page, error) {
	resp, err := r.fetch(ctx, FetchRequest{Key: key, Kind: KindInfinite, Continuation: cont})
	if err != nil {
		return Page{}, err
	}
	page, err := NormalizePage(resp)
	if err != nil {
		return Page{}, err
	}
	page.Seq = r.seq.Add(1)
	return page, nil
}

func (r *Registrar) lockFeed(key Key) (unlock func()) {
	r.feedMu.Lock()
	fl, ok := r.feeds[key]
	if !ok {
		fl = &feedLock{}
		r.feeds[key] = fl
	}
	fl.refs++
	r.feedMu.Unlock()

	fl.mu.Lock()
	return func() {
		fl.mu.Unlock()
		r.feedMu.Lock()
		fl.refs--
		if fl.refs == 0 {
			delete(r.feeds, key)
		}
		r.feedMu.Unlock()
	}
}
