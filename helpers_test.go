package viewcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/viewcache/provider"
)

type memProvider struct {
	mu     sync.Mutex
	m      map[string][]byte
	reject bool
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	p.m[key] = value
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

type recHooks struct {
	NopHooks
	mu              sync.Mutex
	superseded      int
	fetchFailed     int
	rolledBack      []string
	reconcileFailed []string
	selfHeal        []string
	rejected        int
}

func (h *recHooks) FetchSuperseded(string, uint64) {
	h.mu.Lock()
	h.superseded++
	h.mu.Unlock()
}

func (h *recHooks) FetchFailed(string, bool, error) {
	h.mu.Lock()
	h.fetchFailed++
	h.mu.Unlock()
}

func (h *recHooks) MutationRolledBack(id string, _ int, _ error) {
	h.mu.Lock()
	h.rolledBack = append(h.rolledBack, id)
	h.mu.Unlock()
}

func (h *recHooks) ReconcileFailed(key string, _ error) {
	h.mu.Lock()
	h.reconcileFailed = append(h.reconcileFailed, key)
	h.mu.Unlock()
}

func (h *recHooks) SelfHealParked(_, reason string) {
	h.mu.Lock()
	h.selfHeal = append(h.selfHeal, reason)
	h.mu.Unlock()
}

func (h *recHooks) ProviderSetRejected(string) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

func (h *recHooks) snapshot() recHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recHooks{
		superseded:      h.superseded,
		fetchFailed:     h.fetchFailed,
		rolledBack:      append([]string(nil), h.rolledBack...),
		reconcileFailed: append([]string(nil), h.reconcileFailed...),
		selfHeal:        append([]string(nil), h.selfHeal...),
		rejected:        h.rejected,
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts StoreOptions) *Store {
	t.Helper()
	if opts.SweepInterval == 0 {
		opts.SweepInterval = -1
	}
	s := NewStore(opts)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// event builds an entity record the way the JSON transport would decode it.
func event(id string, likes ...string) Record {
	ls := make([]any, len(likes))
	for i, l := range likes {
		ls[i] = l
	}
	return Record{"id": id, "title": "event " + id, "likes": ls, "likeCount": float64(len(likes))}
}

func numbered(from, to int) []Record {
	out := make([]Record, 0, to-from)
	for n := from; n < to; n++ {
		out = append(out, Record{"id": "i" + strconv.Itoa(n), "n": n})
	}
	return out
}

func ids(rs []Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID()
	}
	return out
}

func likesOf(r Record) []string {
	var out []string
	switch t := r["likes"].(type) {
	case []any:
		for _, v := range t {
			out = append(out, memberID(v))
		}
	case []string:
		out = append(out, t...)
	}
	return out
}

// cursorServer serves pages[i] for cursor "c<i+1>" (the first page has no cursor).
func cursorServer(pages ...[]Record) FetchFunc {
	return func(_ context.Context, req FetchRequest) (Response, error) {
		idx := 0
		if c := req.Continuation.Cursor; c != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(c, "c"))
			if err != nil || n < 2 || n > len(pages) {
				return nil, fmt.Errorf("bad cursor %q", c)
			}
			idx = n - 1
		}
		var next *string
		if idx+1 < len(pages) {
			next = Cursor(fmt.Sprintf("c%d", idx+2))
		}
		return CursorPage{Items: pages[idx], NextCursor: next}, nil
	}
}

// offsetServer serves `pages` pages of `per` numbered items each.
func offsetServer(pages, per int) FetchFunc {
	return func(_ context.Context, req FetchRequest) (Response, error) {
		p := req.Continuation.Page
		if p == 0 {
			p = 1
		}
		return OffsetPage{
			Items: numbered((p-1)*per, p*per),
			Total: pages * per,
			Page:  p,
			Pages: pages,
		}, nil
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
