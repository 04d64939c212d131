package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"anomalyd/internal/task/engine"
	logx "anomalyd/pkg/logx"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
}

func (r *recordingEnqueuer) Enqueue(t engine.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	return nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		bad   bool
	}{
		{in: "0 * * * * *", kind: SpecCron},
		{in: "@daily", kind: SpecCron},
		{in: "cron:@hourly", kind: SpecCron},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "every:1h", kind: SpecInterval, every: time.Hour},
		{in: "", bad: true},
		{in: "tomorrow", bad: true},
		{in: "-5m", bad: true},
	}
	for _, tc := range cases {
		ps, err := ParseSchedule(tc.in)
		if tc.bad {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", tc.in, ps)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
		}
		if ps.Kind != tc.kind || ps.Every != tc.every {
			t.Fatalf("ParseSchedule(%q) = %+v, want kind=%v every=%v", tc.in, ps, tc.kind, tc.every)
		}
	}
}

func TestAddScheduleRejectsInvalidCron(t *testing.T) {
	s := New(Config{Enabled: true}, &recordingEnqueuer{}, logx.Nop())
	if err := s.AddSchedule("bad", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected invalid cron error")
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC"}, &recordingEnqueuer{}, logx.Nop())
	job := func(context.Context) error { return nil }
	if err := s.AddSchedule("dispatch", "0 * * * * *", 0, job); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("dispatch", "30 * * * * *", 0, job); err != nil {
		t.Fatal(err)
	}
	got := s.Schedules()
	if len(got) != 1 || got[0].Spec != "30 * * * * *" {
		t.Fatalf("Schedules() = %+v, want single upserted entry", got)
	}
	if !s.Remove("dispatch") || len(s.Schedules()) != 0 {
		t.Fatal("Remove did not drop the schedule")
	}
}

func TestTriggersEnqueueTasks(t *testing.T) {
	rec := &recordingEnqueuer{}
	s := New(Config{Enabled: true, Timezone: "UTC"}, rec, logx.Nop())
	if err := s.AddSchedule("tick", "* * * * * *", time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no task enqueued within 3s")
		}
		time.Sleep(20 * time.Millisecond)
	}
	rec.mu.Lock()
	task := rec.tasks[0]
	rec.mu.Unlock()
	if task.Name != "tick" || task.Key != "schedule:tick" || !task.Opt.SkipIfRunning {
		t.Fatalf("task = %+v, want gated tick task", task)
	}
	if s.Location().String() != "UTC" {
		t.Fatalf("Location() = %v, want UTC", s.Location())
	}
}

func TestAddScheduleOnUsesOwnEnqueuerAndFireTime(t *testing.T) {
	shared, lane := &recordingEnqueuer{}, &recordingEnqueuer{}
	s := New(Config{Enabled: true, Timezone: "UTC"}, shared, logx.Nop())
	if err := s.AddScheduleOn(nil, "tick", "* * * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("AddScheduleOn(nil) err = nil, want error")
	}
	var got time.Time
	var ok bool
	job := func(ctx context.Context) error {
		got, ok = FireTime(ctx)
		return nil
	}
	if err := s.AddScheduleOn(lane, "tick", "* * * * * *", time.Second, job); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for lane.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no task enqueued on the dedicated enqueuer within 3s")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if shared.count() != 0 {
		t.Fatalf("shared enqueuer got %d tasks, want 0", shared.count())
	}

	lane.mu.Lock()
	task := lane.tasks[0]
	lane.mu.Unlock()
	if !task.Opt.SkipIfRunning {
		t.Fatalf("task = %+v, want SkipIfRunning", task)
	}
	before := time.Now()
	if err := task.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ok || got.IsZero() || got.After(before) || before.Sub(got) > 3*time.Second {
		t.Fatalf("FireTime = %v, %v; want the trigger time shortly before %v", got, ok, before)
	}
	if got.Location().String() != "UTC" {
		t.Fatalf("FireTime location = %v, want UTC", got.Location())
	}
	if _, ok := FireTime(context.Background()); ok {
		t.Fatal("FireTime on a bare context reported ok")
	}
}

func TestDisabledStartIsNoop(t *testing.T) {
	rec := &recordingEnqueuer{}
	s := New(Config{Enabled: false}, rec, logx.Nop())
	_ = s.AddSchedule("tick", "* * * * * *", 0, func(context.Context) error { return nil })
	s.Start(context.Background())
	defer s.Stop(context.Background())
	time.Sleep(1200 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("enqueued %d tasks while disabled", rec.count())
	}
}

func TestValidateSchedule(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{in: "0 * * * * *", ok: true},
		{in: "30 * * * * *", ok: true},
		{in: "15m", ok: true},
		{in: "61 * * * *"},
		{in: "cron:nonsense here"},
		{in: ""},
	}
	for _, tc := range cases {
		if err := ValidateSchedule(tc.in); (err == nil) != tc.ok {
			t.Fatalf("ValidateSchedule(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}
