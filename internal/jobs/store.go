// Package jobs stores detection job records and selects the jobs whose next
// evaluation window has elapsed.
package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"anomalyd/internal/model"
	"anomalyd/internal/store"
	"anomalyd/pkg/logx"
)

var jobStatuses = []model.JobStatus{model.JobCreated, model.JobRunning, model.JobSuccess, model.JobError, model.JobNoData}

type Store struct {
	st  *store.Store[model.Job]
	log logx.Logger
}

func New(b store.Backend, log logx.Logger) *Store {
	return &Store{
		st:  store.New(b, model.JobKind),
		log: log.With(logx.String("comp", "jobs")),
	}
}

// Validate checks the fields a detection run depends on.
func Validate(j model.Job) error {
	var errs []error
	if strings.TrimSpace(j.ID) == "" {
		errs = append(errs, &model.ValidationError{Field: "jobId", Reason: "must not be empty"})
	}
	if j.Frequency == "" && j.Granularity == "" {
		errs = append(errs, &model.ValidationError{Field: "frequency", Reason: "frequency or granularity required"})
	}
	if j.SigmaThreshold < 0 {
		errs = append(errs, &model.ValidationError{Field: "sigmaThreshold", Reason: "must not be negative"})
	}
	if j.WindowSize < 0 {
		errs = append(errs, &model.ValidationError{Field: "windowSize", Reason: "must not be negative"})
	}
	return errors.Join(errs...)
}

// Put overwrites the job. The status index is rewritten in the same batch.
func (s *Store) Put(ctx context.Context, j model.Job) error {
	if j.Status == "" {
		j.Status = model.JobCreated
	}
	if err := Validate(j); err != nil {
		return err
	}
	p := s.st.Backend().Pipeline()
	for _, st := range jobStatuses {
		if st != j.Status {
			p.SRem(model.JobStatusIndex(st), j.ID)
		}
	}
	s.st.Stage(p, &j)
	return store.Exec(ctx, "job-put", p)
}

func (s *Store) Get(ctx context.Context, id string) (model.Job, error) {
	return s.st.Get(ctx, id)
}

// All lists every job ordered by id.
func (s *Store) All(ctx context.Context) ([]model.Job, error) {
	out, err := s.st.GetAll(ctx)
	sortByID(out)
	return out, err
}

// ByStatus lists jobs currently in st.
func (s *Store) ByStatus(ctx context.Context, st model.JobStatus) ([]model.Job, error) {
	out, err := s.st.GetAllByIndex(ctx, model.JobStatusIndex(st))
	sortByID(out)
	return out, err
}

// SetStatus loads the job, applies update (may be nil), sets st and writes it back.
func (s *Store) SetStatus(ctx context.Context, id string, st model.JobStatus, update func(*model.Job)) (model.Job, error) {
	j, err := s.st.Get(ctx, id)
	if err != nil {
		return j, err
	}
	if update != nil {
		update(&j)
	}
	j.Status = st
	if err := s.Put(ctx, j); err != nil {
		return j, err
	}
	return j, nil
}

// Due returns the jobs with an unevaluated elapsed window at now.
func (s *Store) Due(ctx context.Context, now time.Time) ([]model.Job, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, j := range all {
		if j.DueAt(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

// ResetRunning moves jobs left RUNNING by a previous process back to CREATED
// so they become due again.
func (s *Store) ResetRunning(ctx context.Context) (int, error) {
	running, err := s.ByStatus(ctx, model.JobRunning)
	if err != nil {
		return 0, err
	}
	for _, j := range running {
		j.Status = model.JobCreated
		if err := s.Put(ctx, j); err != nil {
			return 0, err
		}
	}
	if len(running) > 0 {
		s.log.Warn("reset jobs left running", logx.Int("count", len(running)))
	}
	return len(running), nil
}

func sortByID(js []model.Job) {
	sort.Slice(js, func(i, j int) bool { return js[i].ID < js[j].ID })
}
