// Package reports persists detection reports indexed by job, by evaluation
// window and by every target that still has to be notified about them.
package reports

import (
	"context"
	"sort"
	"time"

	"anomalyd/internal/eventbus"
	"anomalyd/internal/model"
	"anomalyd/internal/store"
	"anomalyd/pkg/logx"
)

// pruneBatch bounds how many removals share one pipeline.
const pruneBatch = 256

type Store struct {
	st  *store.Store[model.Report]
	bus eventbus.Bus
	log logx.Logger
}

// New builds a report store. bus may be nil.
func New(b store.Backend, bus eventbus.Bus, log logx.Logger) *Store {
	return &Store{
		st:  store.New(b, model.ReportKind),
		bus: bus,
		log: log.With(logx.String("comp", "reports")),
	}
}

// WrittenEvent is published after WriteBatch.
type WrittenEvent struct {
	JobID   string   `json:"job_id"`
	Reports []string `json:"reports"`
	Targets []string `json:"targets"`
}

// Supersede deletes every report of window w and its index memberships in a
// single batch. It returns how many report ids were dropped.
func (s *Store) Supersede(ctx context.Context, w model.Window) (int, error) {
	windowKey := model.ReportWindowIndex(w)
	ids, err := s.st.Members(ctx, windowKey)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	existing, err := s.st.GetMany(ctx, ids)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]model.Report, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	p := s.st.Backend().Pipeline()
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			// Dangling id: no record left to tell us its targets.
			s.st.StageRemove(p, id, store.RemoveOptions{FromIndices: []string{model.ReportJobIndex(w.JobID)}})
			continue
		}
		s.st.StageRemove(p, id, removeOptions(r))
	}
	p.Del(windowKey)
	if err := store.Exec(ctx, "report-supersede", p); err != nil {
		return 0, err
	}
	s.log.Debug("window superseded",
		logx.String("job", w.JobID),
		logx.Time("nominal", w.NominalTime),
		logx.Int("removed", len(ids)),
	)
	return len(ids), nil
}

// WriteBatch stores reports in one batch. Each report is indexed under its
// job, its window and every target currently associated with its job; the
// returned copies carry those target ids.
func (s *Store) WriteBatch(ctx context.Context, reports []model.Report) ([]model.Report, error) {
	if len(reports) == 0 {
		return nil, nil
	}
	targetsByJob := make(map[string][]string)
	for _, r := range reports {
		if _, ok := targetsByJob[r.JobID]; ok {
			continue
		}
		ids, err := s.st.Members(ctx, model.JobTargetIndex(r.JobID))
		if err != nil {
			return nil, err
		}
		targetsByJob[r.JobID] = ids
	}

	out := make([]model.Report, len(reports))
	p := s.st.Backend().Pipeline()
	for i, r := range reports {
		r = r.Clone()
		r.TargetIDs = append([]string(nil), targetsByJob[r.JobID]...)
		s.st.Stage(p, &r)
		out[i] = r
	}
	if err := store.Exec(ctx, "report-write", p); err != nil {
		return nil, err
	}

	for job, targets := range targetsByJob {
		var ids []string
		for _, r := range out {
			if r.JobID == job {
				ids = append(ids, r.ID)
			}
		}
		eventbus.Publish(s.bus, eventbus.TypeReportsWritten, WrittenEvent{JobID: job, Reports: ids, Targets: targets})
	}
	return out, nil
}

// PendingFor returns the reports indexed under targetID that still await
// notification, oldest window first.
func (s *Store) PendingFor(ctx context.Context, targetID string) ([]model.Report, error) {
	all, err := s.st.GetAllByIndex(ctx, model.TargetReportIndex(targetID))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Pending() {
			out = append(out, r)
		}
	}
	sortReports(out)
	return out, nil
}

// Acknowledge drops delivered report ids from the target's report index.
// The records stay for the job and window indices.
func (s *Store) Acknowledge(ctx context.Context, targetID string, reportIDs ...string) error {
	return s.st.RemoveFromIndex(ctx, model.TargetReportIndex(targetID), reportIDs...)
}

func (s *Store) Get(ctx context.Context, id string) (model.Report, error) {
	return s.st.Get(ctx, id)
}

// ForJob returns every stored report of jobID, oldest window first.
func (s *Store) ForJob(ctx context.Context, jobID string) ([]model.Report, error) {
	out, err := s.st.GetAllByIndex(ctx, model.ReportJobIndex(jobID))
	sortReports(out)
	return out, err
}

// ForWindow returns the live reports of one window.
func (s *Store) ForWindow(ctx context.Context, w model.Window) ([]model.Report, error) {
	out, err := s.st.GetAllByIndex(ctx, model.ReportWindowIndex(w))
	sortReports(out)
	return out, err
}

// Prune removes reports whose nominal time is before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := s.st.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	p := s.st.Backend().Pipeline()
	staged := 0
	flush := func() error {
		if staged == 0 {
			return nil
		}
		if err := store.Exec(ctx, "report-prune", p); err != nil {
			return err
		}
		removed += staged
		staged = 0
		p = s.st.Backend().Pipeline()
		return nil
	}
	for _, r := range all {
		if !r.NominalTime.Before(cutoff) {
			continue
		}
		opt := removeOptions(r)
		opt.FromIndices = append(opt.FromIndices, model.ReportWindowIndex(r.Window()))
		s.st.StageRemove(p, r.ID, opt)
		staged++
		if staged >= pruneBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := flush(); err != nil {
		return removed, err
	}
	if removed > 0 {
		s.log.Info("reports pruned", logx.Int("removed", removed), logx.Time("cutoff", cutoff))
	}
	return removed, nil
}

func removeOptions(r model.Report) store.RemoveOptions {
	from := make([]string, 0, len(r.TargetIDs)+1)
	from = append(from, model.ReportJobIndex(r.JobID))
	for _, t := range r.TargetIDs {
		from = append(from, model.TargetReportIndex(t))
	}
	return store.RemoveOptions{FromIndices: from}
}

func sortReports(rs []model.Report) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].NominalTime.Equal(rs[j].NominalTime) {
			return rs[i].NominalTime.Before(rs[j].NominalTime)
		}
		return rs[i].ID < rs[j].ID
	})
}
