package viewcache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

var errServer = errors.New("500 internal server error")

type fixture struct {
	store  *Store
	coord  *Coordinator
	hooks  *recHooks
	detail Key
	list   Key
	feed   Key
	other  Key
}

// newFixture seeds e1 (liked by u2) into a detail view, a list page and a feed,
// plus an unrelated users list.
func newFixture(t *testing.T, reconciler Reconciler, timeout time.Duration) *fixture {
	t.Helper()
	hooks := &recHooks{}
	s := newTestStore(t, StoreOptions{Hooks: hooks})
	f := &fixture{
		store:  s,
		coord:  NewCoordinator(s, reconciler, timeout, nil, hooks),
		hooks:  hooks,
		detail: ResolveKey("events/detail", map[string]any{"id": "e1"}),
		list:   ResolveKey("events/list", map[string]any{"page": 1}),
		feed:   ResolveKey("events/feed", nil),
		other:  ResolveKey("users/list", nil),
	}
	s.Set(f.detail, Data{Record: event("e1", "u2")})
	s.Set(f.list, Data{Pages: []Page{{Items: []Record{event("e0"), event("e1", "u2")}, Continuation: Continuation{Page: 2}}}})
	s.Set(f.feed, Data{Pages: []Page{
		{Items: []Record{event("e1", "u2"), event("e2")}, Continuation: Continuation{Cursor: "c2"}, Seq: 1},
		{Items: []Record{event("e3")}, Seq: 2},
	}})
	s.Set(f.other, Data{Pages: []Page{{Items: []Record{{"id": "u1"}}}}})
	return f
}

func (f *fixture) data(k Key) Data {
	e, _ := f.store.Get(k)
	return e.Data
}

func (f *fixture) snapshot() map[Key]Data {
	out := map[Key]Data{}
	for _, k := range f.store.Keys() {
		out[k] = f.data(k)
	}
	return out
}

func likeToggle(actor string) Toggle {
	return Toggle{EntityID: "e1", Actor: actor, Field: "likes", CountField: "likeCount"}
}

func remoteOK(context.Context) (Response, error) { return nil, nil }

func remoteFail(context.Context) (Response, error) { return nil, errServer }

// e1 as seen from every view that holds it
func (f *fixture) e1Everywhere(t *testing.T) []Record {
	t.Helper()
	var out []Record
	for _, k := range []Key{f.detail, f.list, f.feed} {
		r, found := f.data(k).FindRecord("e1")
		if !found {
			t.Fatalf("%s lost e1", k)
		}
		out = append(out, r)
	}
	return out
}

func TestToggleLikeRollbackScenario(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	var during Record
	rec, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", func(context.Context) (Response, error) {
		during = f.data(f.detail).Record
		return nil, errServer
	}))

	if !reflect.DeepEqual(likesOf(during), []string{"u2", "u1"}) || during["likeCount"] != float64(2) {
		t.Fatalf("optimistic state: likes=%v count=%v", likesOf(during), during["likeCount"])
	}

	var me *MutationError
	if !errors.As(err, &me) || !errors.Is(err, errServer) || me.EntityID != "e1" {
		t.Fatalf("want *MutationError wrapping the server error, got %v", err)
	}
	if rec.Status != MutationRolledBack || me.MutationID != rec.ID {
		t.Fatalf("record status=%v id=%s/%s", rec.Status, rec.ID, me.MutationID)
	}
	for _, r := range f.e1Everywhere(t) {
		if !reflect.DeepEqual(likesOf(r), []string{"u2"}) || r["likeCount"] != float64(1) {
			t.Fatalf("not reverted: likes=%v count=%v", likesOf(r), r["likeCount"])
		}
	}
	if h := f.hooks.snapshot(); len(h.rolledBack) != 1 || h.rolledBack[0] != "e1" {
		t.Fatalf("rolledBack hook=%v", h.rolledBack)
	}
}

func TestRollbackIsExact(t *testing.T) {
	f := newFixture(t, nil, 0)
	before := f.snapshot()

	rec, err := f.coord.Mutate(context.Background(), likeToggle("u1").Mutation("events", remoteFail))
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(rec.AffectedKeys) != 3 || len(rec.PreSnapshots) != 3 {
		t.Fatalf("affected=%d snapshots=%d want 3/3", len(rec.AffectedKeys), len(rec.PreSnapshots))
	}
	if !reflect.DeepEqual(f.snapshot(), before) {
		t.Fatalf("views differ from their pre-mutation snapshots")
	}
	for k, snap := range rec.PreSnapshots {
		got, _ := f.store.Get(k)
		if !reflect.DeepEqual(got.Data, snap.Data) || got.Status != snap.Status || got.Stale != snap.Stale {
			t.Fatalf("%s differs from its snapshot", k)
		}
	}
}

func TestToggleTwiceIsIdentity(t *testing.T) {
	for _, actor := range []string{"u1", "u2"} {
		t.Run(actor, func(t *testing.T) {
			f := newFixture(t, nil, 0)
			before := f.snapshot()
			ctx := context.Background()

			if _, err := f.coord.Mutate(ctx, likeToggle(actor).Mutation("events", remoteOK)); err != nil {
				t.Fatal(err)
			}
			mid := f.e1Everywhere(t)
			wantCount := float64(2)
			if actor == "u2" {
				wantCount = 0
			}
			for _, r := range mid {
				if r["likeCount"] != wantCount {
					t.Fatalf("after first toggle count=%v want %v", r["likeCount"], wantCount)
				}
			}
			if _, err := f.coord.Mutate(ctx, likeToggle(actor).Mutation("events", remoteOK)); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(f.snapshot(), before) {
				t.Fatalf("toggle twice should restore the original views")
			}
		})
	}
}

func TestToggleCountNeverNegative(t *testing.T) {
	f := newFixture(t, nil, 0)
	// count already drifted to 0 while u2 is still a member
	f.store.Set(f.detail, Data{Record: Record{"id": "e1", "likes": []any{"u2"}, "likeCount": float64(0)}})

	rec, err := f.coord.Mutate(context.Background(), likeToggle("u2").Mutation("events", remoteFail))
	if err == nil || rec.Status != MutationRolledBack {
		t.Fatalf("expected rollback")
	}
	if got := f.data(f.detail).Record["likeCount"]; got != float64(0) {
		t.Fatalf("count after rollback=%v", got)
	}

	if _, err := f.coord.Mutate(context.Background(), likeToggle("u2").Mutation("events", remoteOK)); err != nil {
		t.Fatal(err)
	}
	if got := f.data(f.detail).Record["likeCount"]; got != float64(0) {
		t.Fatalf("count went below zero: %v", got)
	}
}

func TestToggleDecidesOnceFromDetail(t *testing.T) {
	f := newFixture(t, nil, 0)
	// the list is out of date: it still shows u1 as a liker
	f.store.Set(f.list, Data{Pages: []Page{{Items: []Record{event("e1", "u2", "u1")}}}})

	if _, err := f.coord.Mutate(context.Background(), likeToggle("u1").Mutation("events", remoteOK)); err != nil {
		t.Fatal(err)
	}
	// detail said absent => insert everywhere; the list already had u1 and keeps its count
	if got := likesOf(f.data(f.detail).Record); !reflect.DeepEqual(got, []string{"u2", "u1"}) {
		t.Fatalf("detail likes=%v", got)
	}
	r, _ := f.data(f.list).FindRecord("e1")
	if !reflect.DeepEqual(likesOf(r), []string{"u2", "u1"}) || r["likeCount"] != float64(2) {
		t.Fatalf("list likes=%v count=%v", likesOf(r), r["likeCount"])
	}
}

func TestSerializedMutationsPerEntity(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	gate := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", func(context.Context) (Response, error) {
			note("first:start")
			<-gate
			note("first:end")
			return nil, nil
		}))
		if err != nil {
			t.Errorf("first: %v", err)
		}
	}()
	waitFor(t, "first mutation in flight", func() bool { return f.coord.Pending("e1") == 1 && len(likesOf(f.data(f.detail).Record)) == 2 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", func(context.Context) (Response, error) {
			note("second:start")
			return nil, nil
		}))
		if err != nil {
			t.Errorf("second: %v", err)
		}
	}()
	waitFor(t, "second mutation queued", func() bool { return f.coord.Pending("e1") == 2 })

	// the queued toggle has not touched anything yet
	if got := likesOf(f.data(f.detail).Record); !reflect.DeepEqual(got, []string{"u2", "u1"}) {
		t.Fatalf("second mutation applied early: %v", got)
	}
	close(gate)
	wg.Wait()

	if !reflect.DeepEqual(order, []string{"first:start", "first:end", "second:start"}) {
		t.Fatalf("order=%v", order)
	}
	// sequential application: like then unlike
	for _, r := range f.e1Everywhere(t) {
		if !reflect.DeepEqual(likesOf(r), []string{"u2"}) || r["likeCount"] != float64(1) {
			t.Fatalf("final state likes=%v count=%v", likesOf(r), r["likeCount"])
		}
	}
	if f.coord.Pending("e1") != 0 {
		t.Fatalf("lane not released")
	}
}

func TestSerializedRollbackThenCommit(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	gate := make(chan struct{})

	firstErr, secondErr := make(chan error, 1), make(chan error, 1)
	go func() {
		_, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", func(context.Context) (Response, error) {
			<-gate
			return nil, errServer
		}))
		firstErr <- err
	}()
	waitFor(t, "first in flight", func() bool { return f.coord.Pending("e1") == 1 })
	go func() {
		_, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", remoteOK))
		secondErr <- err
	}()
	waitFor(t, "second queued", func() bool { return f.coord.Pending("e1") == 2 })
	close(gate)

	if err := <-firstErr; !errors.Is(err, errServer) {
		t.Fatalf("first should roll back, got %v", err)
	}
	if err := <-secondErr; err != nil {
		t.Fatalf("second should commit, got %v", err)
	}
	// rollback restored [u2]; the second toggle then planned from that state
	if got := likesOf(f.data(f.detail).Record); !reflect.DeepEqual(got, []string{"u2", "u1"}) {
		t.Fatalf("likes=%v want [u2 u1]", got)
	}
}

func TestDifferentEntitiesDoNotQueue(t *testing.T) {
	f := newFixture(t, nil, 0)
	gate := make(chan struct{})
	defer close(gate)

	go f.coord.Mutate(context.Background(), Mutation{EntityID: "e1", Remote: func(context.Context) (Response, error) {
		<-gate
		return nil, nil
	}})
	waitFor(t, "e1 in flight", func() bool { return f.coord.Pending("e1") == 1 })

	done := make(chan error)
	go func() {
		_, err := f.coord.Mutate(context.Background(), Mutation{EntityID: "e2", Remote: remoteOK})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatalf("e2 blocked behind e1")
	}
}

func TestConcurrentRollbacksOnDifferentEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, StoreOptions{})
	c := NewCoordinator(s, nil, 0, nil, nil)
	detailA := ResolveKey("events/detail", map[string]any{"id": "A"})
	detailB := ResolveKey("events/detail", map[string]any{"id": "B"})
	list := ResolveKey("events/list", nil)
	s.Set(detailA, Data{Record: event("A")})
	s.Set(detailB, Data{Record: event("B")})
	s.Set(list, Data{Pages: []Page{{Items: []Record{event("A"), event("B")}}}})
	before := map[Key]Data{}
	for _, k := range []Key{detailA, detailB, list} {
		e, _ := s.Get(k)
		before[k] = e.Data
	}

	rejectAfter := func(started, proceed chan struct{}) RemoteFunc {
		return func(context.Context) (Response, error) {
			close(started)
			<-proceed
			return nil, errServer
		}
	}
	like := func(id string) Toggle {
		return Toggle{EntityID: id, Actor: "u1", Field: "likes", CountField: "likeCount"}
	}
	startedA, proceedA := make(chan struct{}), make(chan struct{})
	startedB, proceedB := make(chan struct{}), make(chan struct{})
	type result struct {
		rec *MutationRecord
		err error
	}
	resA, resB := make(chan result, 1), make(chan result, 1)

	go func() {
		rec, err := c.Mutate(ctx, like("A").Mutation("events", rejectAfter(startedA, proceedA)))
		resA <- result{rec, err}
	}()
	<-startedA
	go func() {
		rec, err := c.Mutate(ctx, like("B").Mutation("events", rejectAfter(startedB, proceedB)))
		resB <- result{rec, err}
	}()
	<-startedB

	// B snapshotted the list while it carried A's optimistic like
	mid, _ := s.Get(list)
	if r, _ := mid.Data.FindRecord("A"); r["likeCount"] != float64(1) {
		t.Fatalf("A not applied to the list: %v", r)
	}

	close(proceedA)
	a := <-resA
	close(proceedB)
	b := <-resB
	if a.err == nil || b.err == nil {
		t.Fatalf("both mutations should roll back: %v / %v", a.err, b.err)
	}
	if len(a.rec.AffectedKeys) != 2 || len(b.rec.AffectedKeys) != 2 {
		t.Fatalf("default selector should pick only views holding the entity: A=%v B=%v", a.rec.AffectedKeys, b.rec.AffectedKeys)
	}

	for k, want := range before {
		got, _ := s.Get(k)
		if !reflect.DeepEqual(got.Data, want) {
			t.Fatalf("%s after both rollbacks:\n got %v\nwant %v", k, got.Data, want)
		}
	}
}

func TestRestoreKeepsOtherWritersChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, StoreOptions{})
	list := ResolveKey("events/list", nil)
	s.Set(list, Data{Pages: []Page{{Items: []Record{event("A"), event("B")}}}})

	rename := func(id, title string) Transform {
		return func(d Data) Data {
			return d.MapRecords(id, func(r Record) Record {
				r["title"] = title
				return r
			})
		}
	}
	snapA := s.Apply(ctx, []Key{list}, rename("A", "optimistic A"))
	s.Apply(ctx, []Key{list}, rename("B", "optimistic B"))

	s.Restore("A", snapA)
	e, _ := s.Get(list)
	a, _ := e.Data.FindRecord("A")
	b, _ := e.Data.FindRecord("B")
	if a["title"] != "event A" || b["title"] != "optimistic B" {
		t.Fatalf("restore clobbered B or missed A: A=%v B=%v", a["title"], b["title"])
	}
}

func TestQueuedMutationHonorsContext(t *testing.T) {
	f := newFixture(t, nil, 0)
	gate := make(chan struct{})
	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = f.coord.Mutate(context.Background(), likeToggle("u1").Mutation("events", func(context.Context) (Response, error) {
			<-gate
			return nil, nil
		}))
	}()
	waitFor(t, "first in flight", func() bool { return f.coord.Pending("e1") == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		_, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", remoteOK))
		errc <- err
	}()
	waitFor(t, "second queued", func() bool { return f.coord.Pending("e1") == 2 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if f.coord.Pending("e1") != 1 {
		t.Fatalf("cancelled waiter still queued")
	}
	close(gate)
	<-first
	if f.coord.Pending("e1") != 0 {
		t.Fatalf("lane leaked")
	}
	if got := likesOf(f.data(f.detail).Record); !reflect.DeepEqual(got, []string{"u2", "u1"}) {
		t.Fatalf("cancelled mutation must not apply: %v", got)
	}
}

func TestMutationTimeoutRollsBack(t *testing.T) {
	f := newFixture(t, nil, 20*time.Millisecond)
	before := f.snapshot()

	rec, err := f.coord.Mutate(context.Background(), likeToggle("u1").Mutation("events", func(ctx context.Context) (Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if !errors.Is(err, context.DeadlineExceeded) || rec.Status != MutationRolledBack {
		t.Fatalf("timeout should roll back: status=%v err=%v", rec.Status, err)
	}
	if !reflect.DeepEqual(f.snapshot(), before) {
		t.Fatalf("timeout did not restore views")
	}
}

func TestServerRecordOverwritesGuess(t *testing.T) {
	f := newFixture(t, nil, 0)
	server := Record{"id": "e1", "likes": []any{"u2", "u1", "u7"}, "likeCount": float64(3)}

	rec, err := f.coord.Mutate(context.Background(), likeToggle("u1").Mutation("events", func(context.Context) (Response, error) {
		return server, nil
	}))
	if err != nil || rec.Status != MutationCommitted {
		t.Fatalf("commit: %v", err)
	}
	for _, r := range f.e1Everywhere(t) {
		if !reflect.DeepEqual(likesOf(r), []string{"u2", "u1", "u7"}) || r["likeCount"] != float64(3) {
			t.Fatalf("server state not applied: %v", r)
		}
		if r["title"] != "event e1" {
			t.Fatalf("fields absent from the server record should survive: %v", r)
		}
	}
}

func TestServerRawJSONOverwritesGuess(t *testing.T) {
	f := newFixture(t, nil, 0)
	_, err := f.coord.Mutate(context.Background(), likeToggle("u1").Mutation("events", func(context.Context) (Response, error) {
		return RawJSON(`{"id":"e1","likes":["u1"],"likeCount":1}`), nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := likesOf(f.data(f.detail).Record); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Fatalf("likes=%v", got)
	}
}

func TestMutationSupersedesInFlightFetch(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	epoch := f.store.BeginFetch(ctx, f.detail)

	if _, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", remoteOK)); err != nil {
		t.Fatal(err)
	}
	// the pre-mutation fetch resolves late with pre-mutation data
	if _, accepted := f.store.CompleteFetch(f.detail, epoch, func(Data) Data { return Data{Record: event("e1", "u2")} }); accepted {
		t.Fatalf("late fetch overwrote the optimistic write")
	}
	if got := likesOf(f.data(f.detail).Record); !reflect.DeepEqual(got, []string{"u2", "u1"}) {
		t.Fatalf("likes=%v", got)
	}
}

func TestCustomSelectorAndPlainTransform(t *testing.T) {
	f := newFixture(t, nil, 0)
	rename := Transform(func(d Data) Data {
		return d.MapRecords("e1", func(r Record) Record {
			r["title"] = "renamed"
			return r
		})
	})

	rec, err := f.coord.Mutate(context.Background(), Mutation{
		EntityID:   "e1",
		Namespace:  "events",
		Select:     Select(Exactly(f.detail)),
		Optimistic: rename,
		Remote:     remoteOK,
	})
	if err != nil || len(rec.AffectedKeys) != 1 {
		t.Fatalf("affected=%v err=%v", rec.AffectedKeys, err)
	}
	if f.data(f.detail).Record["title"] != "renamed" {
		t.Fatalf("detail not renamed")
	}
	if r, _ := f.data(f.feed).FindRecord("e1"); r["title"] != "event e1" {
		t.Fatalf("feed outside the selector touched")
	}
}

func TestMutateWithoutRemote(t *testing.T) {
	f := newFixture(t, nil, 0)
	if _, err := f.coord.Mutate(context.Background(), Mutation{EntityID: "e1"}); err == nil {
		t.Fatalf("expected error")
	}
	if f.coord.Pending("e1") != 0 {
		t.Fatalf("lane taken without remote")
	}
}

type recReconciler struct {
	mu   sync.Mutex
	recs []*MutationRecord
}

func (r *recReconciler) Committed(rec *MutationRecord) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

func TestReconcilerSeesCommitsOnly(t *testing.T) {
	rr := &recReconciler{}
	f := newFixture(t, rr, 0)
	ctx := context.Background()

	_, _ = f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", remoteFail))
	rec, err := f.coord.Mutate(ctx, likeToggle("u1").Mutation("events", remoteOK))
	if err != nil {
		t.Fatal(err)
	}
	if len(rr.recs) != 1 || rr.recs[0] != rec || rec.Namespace != "events" {
		t.Fatalf("reconciler got %d records", len(rr.recs))
	}
}

func TestMemberHelpers(t *testing.T) {
	populated := []any{map[string]any{"_id": "u2", "name": "Bo"}, map[string]any{"id": "u1"}}
	if memberIndex(populated, "u1") != 1 || memberIndex(populated, "u9") != -1 {
		t.Fatalf("populated members not matched by id")
	}
	if memberIndex([]string{"a", "b"}, "b") != 1 || memberIndex(nil, "a") != -1 {
		t.Fatalf("string members")
	}
	if got := withoutMember([]string{"a", "b", "c"}, 1); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("withoutMember=%v", got)
	}
	if got := withMember(nil, "a"); !reflect.DeepEqual(got, []any{"a"}) {
		t.Fatalf("withMember(nil)=%v", got)
	}
	src := []any{"a"}
	_ = withMember(src, "b")
	if len(src) != 1 {
		t.Fatalf("withMember mutated its input")
	}
}

func TestAddCount(t *testing.T) {
	cases := []struct {
		in    any
		delta int
		want  any
	}{
		{float64(1), 1, float64(2)},
		{float64(0), -1, float64(0)},
		{int(3), -1, int(2)},
		{int(0), -1, int(0)},
		{int64(5), 1, int64(6)},
		{int32(0), -1, int32(0)},
		{json.Number("7"), -1, json.Number("6")},
		{json.Number("0"), -1, json.Number("0")},
		{nil, 1, float64(1)},
		{nil, -1, float64(0)},
		{uint64(1), 1, uint64(2)},
		{uint64(0), -1, uint64(0)},
		{uint(2), -1, uint(1)},
		{uint8(255), -1, uint8(254)},
		{uint16(4), 1, uint16(5)},
		{uint32(0), -1, uint32(0)},
		{int8(1), -1, int8(0)},
		{int16(-3), 1, int16(0)},
		{float32(2), 1, float32(3)},
		{float32(0), -1, float32(0)},
		{"n/a", 1, "n/a"},
	}
	for _, c := range cases {
		if got := addCount(c.in, c.delta); got != c.want {
			t.Errorf("addCount(%#v,%d)=%#v want %#v", c.in, c.delta, got, c.want)
		}
	}
}

func TestToggleMovesUnsignedCount(t *testing.T) {
	// CBOR and msgpack decode small counts as unsigned integers
	r := Record{"id": "e1", "likes": []any{"u2"}, "likeCount": uint64(1)}
	got := likeToggle("u1").apply(r, false)
	if got["likeCount"] != uint64(2) || !reflect.DeepEqual(likesOf(got), []string{"u2", "u1"}) {
		t.Fatalf("like: %v", got)
	}
	got = likeToggle("u1").apply(got, true)
	if got["likeCount"] != uint64(1) || !reflect.DeepEqual(likesOf(got), []string{"u2"}) {
		t.Fatalf("unlike: %v", got)
	}
}

func TestToggleWithoutCountField(t *testing.T) {
	s := newTestStore(t, StoreOptions{})
	k := ResolveKey("events/detail", map[string]any{"id": "e1"})
	s.Set(k, Data{Record: Record{"id": "e1", "attendees": []string{"u2"}}})
	c := NewCoordinator(s, nil, 0, nil, nil)

	toggle := Toggle{EntityID: "e1", Actor: "u1", Field: "attendees"}
	if _, err := c.Mutate(context.Background(), toggle.Mutation("events", remoteOK)); err != nil {
		t.Fatal(err)
	}
	e, _ := s.Get(k)
	if got := e.Data.Record["attendees"]; !reflect.DeepEqual(got, []string{"u2", "u1"}) {
		t.Fatalf("attendees=%v", got)
	}
	if _, has := e.Data.Record[""]; has {
		t.Fatalf("empty count field written")
	}
}
