package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"anomalyd/internal/model"
	"anomalyd/internal/store/memory"
	"anomalyd/pkg/logx"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { _ = b.Close() })
	return New(b, logx.Nop())
}

func TestPutValidates(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	err := s.Put(context.Background(), model.Job{ID: "j1"})
	var ve *model.ValidationError
	if !errors.As(err, &ve) || ve.Field != "frequency" {
		t.Fatalf("Put() err = %v, want frequency ValidationError", err)
	}
}

func TestSetStatusMovesStatusIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	if err := s.Put(ctx, model.Job{ID: "j1", Frequency: model.GranularityHour}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	created, _ := s.ByStatus(ctx, model.JobCreated)
	if len(created) != 1 {
		t.Fatalf("ByStatus(CREATED) = %+v, want [j1]", created)
	}

	stamp := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	j, err := s.SetStatus(ctx, "j1", model.JobRunning, func(j *model.Job) { j.EffectiveQueryTime = stamp })
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if j.Status != model.JobRunning || !j.EffectiveQueryTime.Equal(stamp) {
		t.Fatalf("SetStatus() = %+v", j)
	}
	if got, _ := s.ByStatus(ctx, model.JobCreated); len(got) != 0 {
		t.Fatalf("ByStatus(CREATED) = %+v, want empty", got)
	}
	if got, _ := s.ByStatus(ctx, model.JobRunning); len(got) != 1 {
		t.Fatalf("ByStatus(RUNNING) = %+v, want [j1]", got)
	}

	if _, err := s.SetStatus(ctx, "missing", model.JobRunning, nil); err == nil {
		t.Fatalf("SetStatus(missing) err = nil, want not found")
	}
}

func TestDueAndResetRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2024, 5, 14, 9, 5, 0, 0, time.UTC)

	jobs := []model.Job{
		{ID: "fresh", Frequency: model.GranularityHour},
		{ID: "done", Frequency: model.GranularityHour, Status: model.JobSuccess, ReportNominalTime: time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC)},
		{ID: "stale", Frequency: model.GranularityHour, Status: model.JobSuccess, ReportNominalTime: time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC)},
		{ID: "stuck", Frequency: model.GranularityHour, Status: model.JobRunning},
	}
	for _, j := range jobs {
		if err := s.Put(ctx, j); err != nil {
			t.Fatalf("Put(%s): %v", j.ID, err)
		}
	}

	due, err := s.Due(ctx, now)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 2 || due[0].ID != "fresh" || due[1].ID != "stale" {
		t.Fatalf("Due() = %+v, want [fresh stale]", due)
	}

	n, err := s.ResetRunning(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetRunning() = %d, %v, want 1, nil", n, err)
	}
	if due, _ = s.Due(ctx, now); len(due) != 3 {
		t.Fatalf("Due() after reset = %+v, want 3 jobs", due)
	}
}
