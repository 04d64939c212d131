package targets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"anomalyd/internal/model"
	"anomalyd/internal/store"
	"anomalyd/internal/store/memory"
	"anomalyd/pkg/logx"
)

func newRegistry(t *testing.T) (*Registry, *memory.Backend) {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { _ = b.Close() })
	return New(b, logx.Nop()), b
}

func members(t *testing.T, b store.Backend, key string) []string {
	t.Helper()
	p := b.Pipeline()
	cmd := p.SMembers(key)
	if err := p.Exec(context.Background()); err != nil {
		t.Fatalf("SMembers(%s): %v", key, err)
	}
	return cmd.Val()
}

func TestIsDueNow(t *testing.T) {
	t.Parallel()

	tg := model.Target{SendOutHour: "09", SendOutMinute: "30"}
	at := func(h, m int) time.Time { return time.Date(2024, 5, 14, h, m, 0, 0, time.UTC) }
	cases := []struct {
		cadence model.Cadence
		now     time.Time
		want    bool
	}{
		{model.CadenceDay, at(9, 30), true},
		{model.CadenceDay, at(9, 31), false},
		{model.CadenceDay, at(10, 30), false},
		{model.CadenceWeek, at(9, 30), true},
		{model.CadenceMonth, at(8, 30), false},
		{model.CadenceHour, at(9, 30), true},
		{model.CadenceHour, at(17, 30), true},
		{model.CadenceHour, at(17, 29), false},
	}
	for _, tc := range cases {
		if got := IsDueNow(tg, tc.cadence, tc.now); got != tc.want {
			t.Fatalf("IsDueNow(%s, %s) = %v, want %v", tc.cadence, tc.now.Format("15:04"), got, tc.want)
		}
	}
}

func TestRegisterIfNewCreatesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, b := newRegistry(t)

	created, err := r.RegisterIfNew(ctx, "t1", "https://hooks.example.com/a", "ops", ":bell:", "@here", "job-1")
	if err != nil || !created {
		t.Fatalf("RegisterIfNew() = %v, %v, want true, nil", created, err)
	}
	created, err = r.RegisterIfNew(ctx, "t1", "https://other", "changed", "", "", "job-2")
	if err != nil || created {
		t.Fatalf("second RegisterIfNew() = %v, %v, want false, nil", created, err)
	}

	got, err := r.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "ops" || got.SendOutHour != "12" || got.SendOutMinute != "00" || got.RepeatInterval != model.CadenceInstant {
		t.Fatalf("record = %+v, want defaults from the first call", got)
	}
	if jobs := members(t, b, model.TargetJobIndex("t1")); len(jobs) != 2 {
		t.Fatalf("job associations = %v, want job-1 and job-2", jobs)
	}
	if ts := members(t, b, model.JobTargetIndex("job-2")); len(ts) != 1 || ts[0] != "t1" {
		t.Fatalf("jobTargetIndex(job-2) = %v, want [t1]", ts)
	}
	if ts := members(t, b, model.TargetCadenceIndex(model.CadenceInstant)); len(ts) != 1 {
		t.Fatalf("instant index = %v, want [t1]", ts)
	}
}

func TestRegisterIfNewConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, b := newRegistry(t)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := r.RegisterIfNew(ctx, "t1", "https://h", "ops", "", "", fmt.Sprintf("job-%d", i))
			if err != nil {
				t.Errorf("RegisterIfNew: %v", err)
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("created = %d, want 1", createdCount)
	}
	if ids := members(t, b, model.TargetIDIndex); len(ids) != 1 {
		t.Fatalf("id index = %v, want one id", ids)
	}
	if jobs := members(t, b, model.TargetJobIndex("t1")); len(jobs) != n {
		t.Fatalf("associations = %d, want %d", len(jobs), n)
	}
}

func TestRegisterIfNewRestoresCadence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, b := newRegistry(t)

	if _, err := r.RegisterIfNew(ctx, "t1", "https://h", "ops", "", "", "j"); err != nil {
		t.Fatalf("RegisterIfNew: %v", err)
	}
	if err := r.Unsubscribe(ctx, "t1", model.CadenceInstant); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if ts := members(t, b, model.TargetCadenceIndex(model.CadenceInstant)); len(ts) != 0 {
		t.Fatalf("instant index after Unsubscribe = %v, want empty", ts)
	}
	if _, err := r.RegisterIfNew(ctx, "t1", "https://h", "ops", "", "", "j"); err != nil {
		t.Fatalf("RegisterIfNew: %v", err)
	}
	if ts := members(t, b, model.TargetCadenceIndex(model.CadenceInstant)); len(ts) != 1 {
		t.Fatalf("instant index = %v, want [t1]", ts)
	}
}

// flakyBackend fails the Exec with sequence number failAt.
type flakyBackend struct {
	store.Backend
	mu     sync.Mutex
	n      int
	failAt int
}

func (f *flakyBackend) Pipeline() store.Pipeline {
	return &flakyPipeline{Pipeline: f.Backend.Pipeline(), b: f}
}

type flakyPipeline struct {
	store.Pipeline
	b *flakyBackend
}

func (p *flakyPipeline) Exec(ctx context.Context) error {
	p.b.mu.Lock()
	p.b.n++
	fail := p.b.n == p.b.failAt
	p.b.mu.Unlock()
	if fail {
		return errors.New("write timeout")
	}
	return p.Pipeline.Exec(ctx)
}

func TestRegisterIfNewRetryAfterFailedWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	t.Cleanup(func() { _ = mem.Close() })
	// Exec #2 is the record write of the first call.
	r := New(&flakyBackend{Backend: mem, failAt: 2}, logx.Nop())

	if _, err := r.RegisterIfNew(ctx, "t1", "https://hooks.example.com/t1", "ops", "", "", "j1"); !store.IsPersistence(err) {
		t.Fatalf("first RegisterIfNew err = %v, want persistence error", err)
	}
	if got := members(t, mem, model.TargetIDIndex); len(got) != 0 {
		t.Fatalf("existence index after failed write = %v, want empty", got)
	}

	created, err := r.RegisterIfNew(ctx, "t1", "https://hooks.example.com/t1", "ops", "", "", "j1")
	if err != nil || !created {
		t.Fatalf("retried RegisterIfNew = %v, %v; want created", created, err)
	}
	if _, err := r.Get(ctx, "t1"); err != nil {
		t.Fatalf("Get after retry: %v", err)
	}
}

func TestRegisterIfNewRequiresID(t *testing.T) {
	t.Parallel()
	r, _ := newRegistry(t)
	_, err := r.RegisterIfNew(context.Background(), " ", "https://h", "ops", "", "", "j")
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestPutMovesCadence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, b := newRegistry(t)

	tg := model.NewTarget("t1", "https://h", "ops", "", "")
	if err := r.Put(ctx, tg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	tg.RepeatInterval = model.CadenceDay
	tg.SendOutHour = "09"
	if err := r.Put(ctx, tg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ts := members(t, b, model.TargetCadenceIndex(model.CadenceInstant)); len(ts) != 0 {
		t.Fatalf("instant index = %v, want empty", ts)
	}
	due, err := r.ListDue(ctx, model.CadenceDay)
	if err != nil || len(due) != 1 || due[0].SendOutHour != "09" {
		t.Fatalf("ListDue(DAY) = %+v, %v", due, err)
	}

	bad := tg
	bad.Icon = "bell"
	if err := r.Put(ctx, bad); err == nil {
		t.Fatalf("Put(invalid) err = nil, want validation error")
	}
}

func TestDeleteClearsEveryIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, b := newRegistry(t)

	for _, job := range []string{"j1", "j2"} {
		if _, err := r.RegisterIfNew(ctx, "t1", "https://h", "ops", "", "", job); err != nil {
			t.Fatalf("RegisterIfNew: %v", err)
		}
	}
	if _, err := r.RegisterIfNew(ctx, "t2", "https://h2", "dev", "", "", "j1"); err != nil {
		t.Fatalf("RegisterIfNew: %v", err)
	}
	p := b.Pipeline()
	p.SAdd(model.TargetReportIndex("t1"), "r1")
	if err := p.Exec(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tg, _ := r.Get(ctx, "t1")
	if err := r.Delete(ctx, tg); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(ctx, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after Delete err = %v, want ErrNotFound", err)
	}
	for _, key := range []string{
		model.TargetReportIndex("t1"),
		model.TargetJobIndex("t1"),
		model.JobTargetIndex("j2"),
	} {
		if got := members(t, b, key); len(got) != 0 {
			t.Fatalf("%s = %v, want empty", key, got)
		}
	}
	if got := members(t, b, model.JobTargetIndex("j1")); len(got) != 1 || got[0] != "t2" {
		t.Fatalf("jobTargetIndex(j1) = %v, want [t2]", got)
	}
	all, err := r.All(ctx)
	if err != nil || len(all) != 1 || all[0].ID != "t2" {
		t.Fatalf("All() = %+v, %v", all, err)
	}
}

func TestFilterInstantAndJobTargets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newRegistry(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.RegisterIfNew(ctx, id, "https://h/"+id, id, "", "", "j1"); err != nil {
			t.Fatalf("RegisterIfNew: %v", err)
		}
	}
	b, _ := r.Get(ctx, "b")
	b.RepeatInterval = model.CadenceDay
	if err := r.Put(ctx, b); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := r.FilterInstant(ctx, []string{"c", "b", "a", "missing"})
	if err != nil {
		t.Fatalf("FilterInstant: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("FilterInstant() = %+v, want [c a]", got)
	}

	jt, err := r.JobTargets(ctx, "j1")
	if err != nil || len(jt) != 3 || jt[0].ID != "a" {
		t.Fatalf("JobTargets() = %+v, %v", jt, err)
	}
}
