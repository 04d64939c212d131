// Package storetest is a conformance suite every store.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"anomalyd/internal/store"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) store.Backend

// Run executes the suite.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"SAddReportsDelta", testSAddDelta},
		{"HSetMergesAndHGetAllReads", testHashes},
		{"DelRemovesHashesAndSets", testDel},
		{"ResultsFilledAfterExec", testResultsAfterExec},
		{"CanceledContextFails", testCanceledContext},
		{"StorePutGetRemove", testStorePutGetRemove},
		{"StoreGetNotFound", testStoreNotFound},
		{"StoreIndices", testStoreIndices},
		{"PutIfAbsentConcurrent", testPutIfAbsentConcurrent},
		{"PutIfAbsentReleasesClaimOnWriteFailure", testPutIfAbsentReleasesClaim},
		{"StoreIgnoresUnindexedRecord", testStoreIgnoresUnindexed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newBackend(t))
		})
	}
}

func exec(t *testing.T, p store.Pipeline) {
	t.Helper()
	if err := p.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
}

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

func testSAddDelta(t *testing.T, b store.Backend) {
	p := b.Pipeline()
	first := p.SAdd("s", "a", "b")
	again := p.SAdd("s", "b", "c")
	exec(t, p)
	if first.Val() != 2 || again.Val() != 1 {
		t.Fatalf("SAdd deltas = %d,%d, want 2,1", first.Val(), again.Val())
	}

	p = b.Pipeline()
	p.SRem("s", "a")
	members := p.SMembers("s")
	exec(t, p)
	if got := sorted(members.Val()); fmt.Sprint(got) != "[b c]" {
		t.Fatalf("SMembers = %v, want [b c]", got)
	}
}

func testHashes(t *testing.T, b store.Backend) {
	p := b.Pipeline()
	p.HSet("h", map[string]string{"a": "1", "b": "2"})
	p.HSet("h", map[string]string{"b": "3"})
	h := p.HGetAll("h")
	missing := p.HGetAll("nope")
	exec(t, p)
	if h.Val()["a"] != "1" || h.Val()["b"] != "3" || len(h.Val()) != 2 {
		t.Fatalf("HGetAll = %v, want a=1 b=3", h.Val())
	}
	if len(missing.Val()) != 0 {
		t.Fatalf("HGetAll(missing) = %v, want empty", missing.Val())
	}
}

func testDel(t *testing.T, b store.Backend) {
	p := b.Pipeline()
	p.HSet("h", map[string]string{"a": "1"})
	p.SAdd("s", "x")
	exec(t, p)

	p = b.Pipeline()
	p.Del("h", "s")
	h := p.HGetAll("h")
	s := p.SMembers("s")
	exec(t, p)
	if len(h.Val()) != 0 || len(s.Val()) != 0 {
		t.Fatalf("after Del hash=%v set=%v, want both empty", h.Val(), s.Val())
	}
}

func testResultsAfterExec(t *testing.T, b store.Backend) {
	p := b.Pipeline()
	p.SAdd("s", "a")
	members := p.SMembers("s")
	if len(members.Val()) != 0 {
		t.Fatalf("result visible before Exec: %v", members.Val())
	}
	exec(t, p)
	if len(members.Val()) != 1 {
		t.Fatalf("SMembers after Exec = %v, want [a]", members.Val())
	}
}

func testCanceledContext(t *testing.T, b store.Backend) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := b.Pipeline()
	p.SAdd("s", "a")
	if err := p.Exec(ctx); err == nil {
		t.Fatal("Exec with canceled context succeeded")
	}
}

type widget struct {
	ID    string
	Color string
	Size  int
}

var widgetKind = store.Kind[widget]{
	Name:    "widget",
	IDIndex: "widgetIdIndex:Widgets",
	ID:      func(w *widget) string { return w.ID },
	Indices: func(w *widget) []string { return []string{store.Key("widgetColorIndex", w.Color)} },
	Fields: []store.Field[widget]{
		{Name: "widgetId", Get: func(w *widget) string { return w.ID }, Set: func(w *widget, s string) error { w.ID = s; return nil }},
		{Name: "color", Get: func(w *widget) string { return w.Color }, Set: func(w *widget, s string) error { w.Color = s; return nil }},
		{Name: "size", Get: func(w *widget) string { return strconv.Itoa(w.Size) }, Set: func(w *widget, s string) error {
			n, err := strconv.Atoi(s)
			w.Size = n
			return err
		}},
	},
}

func testStorePutGetRemove(t *testing.T, b store.Backend) {
	ctx := context.Background()
	s := store.New(b, widgetKind)
	if err := s.Put(ctx, widget{ID: "w1", Color: "red", Size: 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != (widget{ID: "w1", Color: "red", Size: 3}) {
		t.Fatalf("Get = %+v", got)
	}

	if err := s.Remove(ctx, "w1", store.RemoveOptions{FromIndices: []string{"widgetColorIndex:red"}}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, "w1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}
	ids, err := s.Members(ctx, "widgetColorIndex:red")
	if err != nil || len(ids) != 0 {
		t.Fatalf("color index after Remove = %v, %v", ids, err)
	}
	all, err := s.GetAll(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("GetAll after Remove = %v, %v", all, err)
	}
}

func testStoreNotFound(t *testing.T, b store.Backend) {
	s := store.New(b, widgetKind)
	_, err := s.Get(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
	if store.IsPersistence(err) {
		t.Fatalf("not-found reported as persistence error: %v", err)
	}
}

func testStoreIndices(t *testing.T, b store.Backend) {
	ctx := context.Background()
	s := store.New(b, widgetKind)
	for _, w := range []widget{{ID: "a", Color: "red"}, {ID: "b", Color: "blue"}, {ID: "c", Color: "red"}} {
		if err := s.Put(ctx, w, "widgetShelfIndex:top"); err != nil {
			t.Fatal(err)
		}
	}
	red, err := s.GetAllByIndex(ctx, "widgetColorIndex:red")
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(red))
	for _, w := range red {
		ids = append(ids, w.ID)
	}
	if got := sorted(ids); fmt.Sprint(got) != "[a c]" {
		t.Fatalf("red widgets = %v, want [a c]", got)
	}

	if err := s.RemoveFromIndex(ctx, "widgetShelfIndex:top", "a", "b"); err != nil {
		t.Fatal(err)
	}
	top, _ := s.Members(ctx, "widgetShelfIndex:top")
	if fmt.Sprint(top) != "[c]" {
		t.Fatalf("shelf index = %v, want [c]", top)
	}
	if err := s.AddToIndex(ctx, "widgetShelfIndex:top", "a"); err != nil {
		t.Fatal(err)
	}
	top, _ = s.Members(ctx, "widgetShelfIndex:top")
	if got := sorted(top); fmt.Sprint(got) != "[a c]" {
		t.Fatalf("shelf index = %v, want [a c]", got)
	}

	// Dangling ids in an index are skipped.
	if err := s.AddToIndex(ctx, "widgetColorIndex:red", "ghost"); err != nil {
		t.Fatal(err)
	}
	red, err = s.GetAllByIndex(ctx, "widgetColorIndex:red")
	if err != nil || len(red) != 2 {
		t.Fatalf("GetAllByIndex with dangling id = %d items, %v; want 2", len(red), err)
	}
}

func testPutIfAbsentConcurrent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	s := store.New(b, widgetKind)

	const callers = 16
	var factoryCalls atomic.Int32
	var created atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.PutIfAbsent(ctx, "shared", func() widget {
				factoryCalls.Add(1)
				return widget{ID: "shared", Color: "green", Size: 1}
			}, store.Assoc{Key: "widgetOwnerIndex:shared", Member: "owner-" + strconv.Itoa(i)})
			if err != nil {
				errs <- err
				return
			}
			if ok {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if factoryCalls.Load() != 1 || created.Load() != 1 {
		t.Fatalf("factory calls = %d, created = %d, want 1,1", factoryCalls.Load(), created.Load())
	}
	owners, err := s.Members(ctx, "widgetOwnerIndex:shared")
	if err != nil || len(owners) != callers {
		t.Fatalf("associations = %d, %v; want %d", len(owners), err, callers)
	}
	got, err := s.Get(ctx, "shared")
	if err != nil || got.Color != "green" {
		t.Fatalf("Get(shared) = %+v, %v", got, err)
	}
	ids, _ := s.Members(ctx, "widgetColorIndex:green")
	if fmt.Sprint(ids) != "[shared]" {
		t.Fatalf("color index = %v, want [shared]", ids)
	}
}

var errInjected = errors.New("injected I/O failure")

// failingBackend fails the Exec calls whose 1-based sequence number is in
// failOn and passes every other call through.
type failingBackend struct {
	store.Backend
	mu     sync.Mutex
	n      int
	failOn map[int]bool
}

func (f *failingBackend) Pipeline() store.Pipeline {
	return &failingPipeline{Pipeline: f.Backend.Pipeline(), b: f}
}

type failingPipeline struct {
	store.Pipeline
	b *failingBackend
}

func (p *failingPipeline) Exec(ctx context.Context) error {
	p.b.mu.Lock()
	p.b.n++
	fail := p.b.failOn[p.b.n]
	p.b.mu.Unlock()
	if fail {
		return errInjected
	}
	return p.Pipeline.Exec(ctx)
}

func testPutIfAbsentReleasesClaim(t *testing.T, b store.Backend) {
	ctx := context.Background()
	// Exec #1 is the claim, #2 the record write.
	fb := &failingBackend{Backend: b, failOn: map[int]bool{2: true}}
	s := store.New(store.Backend(fb), widgetKind)
	factory := func() widget { return widget{ID: "w1", Color: "red", Size: 3} }
	owner := store.Assoc{Key: "widgetOwnerIndex:w1", Member: "owner-1"}

	created, err := s.PutIfAbsent(ctx, "w1", factory, owner)
	if created || !errors.Is(err, errInjected) || !store.IsPersistence(err) {
		t.Fatalf("PutIfAbsent = %v, %v; want persistence error wrapping the injected failure", created, err)
	}
	ids, err := s.Members(ctx, widgetKind.IDIndex)
	if err != nil || len(ids) != 0 {
		t.Fatalf("existence index after failed write = %v, %v; want empty", ids, err)
	}

	created, err = s.PutIfAbsent(ctx, "w1", factory, owner)
	if err != nil || !created {
		t.Fatalf("retried PutIfAbsent = %v, %v; want created", created, err)
	}
	got, err := s.Get(ctx, "w1")
	if err != nil || got.Color != "red" {
		t.Fatalf("Get(w1) = %+v, %v", got, err)
	}
}

func testStoreIgnoresUnindexed(t *testing.T, b store.Backend) {
	ctx := context.Background()
	s := store.New(b, widgetKind)
	if err := s.Put(ctx, widget{ID: "stale", Color: "blue", Size: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p := b.Pipeline()
	p.SRem(widgetKind.IDIndex, "stale")
	exec(t, p)

	if _, err := s.Get(ctx, "stale"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(unindexed) = %v, want ErrNotFound", err)
	}
	got, err := s.GetAllByIndex(ctx, store.Key("widgetColorIndex", "blue"))
	if err != nil || len(got) != 0 {
		t.Fatalf("GetAllByIndex = %+v, %v; want the unindexed record skipped", got, err)
	}
}
