package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"anomalyd/internal/config"
	"anomalyd/internal/model"
	"anomalyd/internal/task/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "anomalyd.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

type hookRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&p)
	h.mu.Lock()
	h.texts = append(h.texts, p.Text)
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (h *hookRecorder) got() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.texts...)
}

func TestNoDataRunDeliversToInstantTarget(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	ctx := context.Background()
	a, err := NewApp(ctx, writeConfig(t, `{"logging":{"level":"error"},"store":{"driver":"memory"},"notifier":{"retry_max":0}}`))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()

	if _, err := a.Targets().RegisterIfNew(ctx, "team-a", srv.URL, "Team A", ":bell:", "", "job-1"); err != nil {
		t.Fatalf("RegisterIfNew: %v", err)
	}
	if err := a.Jobs().Put(ctx, model.Job{ID: "job-1", TestName: "orders", Frequency: model.GranularityHour, NotifyOnNoData: true}); err != nil {
		t.Fatalf("Put job: %v", err)
	}

	res, err := a.Runner().Run(ctx, "job-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Placeholder {
		t.Fatalf("Placeholder = false, want true without a source")
	}

	texts := hook.got()
	if len(texts) != 1 || !strings.Contains(texts[0], "team-a") {
		t.Fatalf("webhook texts = %q, want one digest for team-a", texts)
	}

	j, err := a.Jobs().Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != model.JobNoData {
		t.Fatalf("job status = %v, want %v", j.Status, model.JobNoData)
	}
}

func TestStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewApp(ctx, writeConfig(t, `{"logging":{"level":"error"},"scheduler":{"enabled":false}}`))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	names := map[string]bool{}
	for _, s := range a.Scheduler().Schedules() {
		names[s.Name] = true
	}
	if !names[scheduleDispatch] || !names[scheduleJobPoll] || names[schedulePrune] {
		t.Fatalf("schedules = %v, want dispatch and jobs.poll only", names)
	}
	st, err := a.status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Engine.Running || st.Targets != 0 || len(st.Schedules) != 2 {
		t.Fatalf("status = %+v", st)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestDispatchRunsWhileDetectionStalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewApp(ctx, writeConfig(t, `{
		"logging":{"level":"error"},
		"scheduler":{"enabled":true,"timezone":"UTC","dispatch_spec":"1s","job_poll_spec":"1h"},
		"task_engine":{"workers":1}
	}`))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	if err := a.engine.Enqueue(engine.Task{Name: "detect", Key: "job:stalled", Run: func(c context.Context) error {
		close(started)
		select {
		case <-release:
		case <-c.Done():
		}
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	deadline := time.Now().Add(4 * time.Second)
	for {
		ticks := 0
		for _, h := range a.lane.Snapshot().History {
			if h.Name == scheduleDispatch && h.Error == "" {
				ticks++
			}
		}
		if ticks > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no dispatch tick completed while the only detection worker was busy")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if a.engine.Snapshot().InFlight != 1 {
		t.Fatalf("detection in flight = %d, want 1", a.engine.Snapshot().InFlight)
	}
}

func TestValidateSchedules(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		ok   bool
	}{
		{name: "defaults", ok: true},
		{name: "interval poll", cfg: config.Config{Scheduler: config.SchedulerConfig{JobPollSpec: "45s"}}, ok: true},
		{name: "bad dispatch", cfg: config.Config{Scheduler: config.SchedulerConfig{DispatchSpec: "99 * * * * *"}}},
		{name: "bad prune", cfg: config.Config{Retention: config.RetentionConfig{Schedule: "soon"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSchedules(&tc.cfg)
			if (err == nil) != tc.ok {
				t.Fatalf("validateSchedules err = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestFailureTargetAndLocation(t *testing.T) {
	cfg := &config.Config{}
	if ft := failureTarget(cfg); ft != nil {
		t.Fatalf("failureTarget = %+v, want nil", ft)
	}
	cfg.Alerts.FailureTarget = &config.TargetConfig{Destination: "https://hooks.example/ops", Name: "ops"}
	ft := failureTarget(cfg)
	if ft == nil || ft.Destination != "https://hooks.example/ops" || ft.RepeatInterval != model.CadenceInstant {
		t.Fatalf("failureTarget = %+v", ft)
	}

	if loc := location(cfg); loc != time.Local {
		t.Fatalf("location = %v, want Local", loc)
	}
	cfg.Scheduler.Timezone = "UTC"
	if loc := location(cfg); loc.String() != "UTC" {
		t.Fatalf("location = %v, want UTC", loc)
	}
}
