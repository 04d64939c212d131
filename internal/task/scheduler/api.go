package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anomalyd/internal/task/engine"
	logx "anomalyd/pkg/logx"

	"github.com/robfig/cron/v3"
)

// AddSchedule registers job under name (replacing any previous schedule with
// that name). schedule is a cron spec or an interval, see ParseSchedule.
// Triggers skip while the previous run of the same name is queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	return s.AddScheduleOpt(name, schedule, timeout, engine.TaskOptions{SkipIfRunning: true}, job)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) error {
	return s.add(nil, name, schedule, timeout, opt, job)
}

// AddScheduleOn is AddSchedule with triggers going to eng instead of the
// service enqueuer, so the schedule does not queue behind unrelated work.
func (s *Service) AddScheduleOn(eng Enqueuer, name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	if eng == nil {
		return errors.New("enqueuer required")
	}
	return s.add(eng, name, schedule, timeout, engine.TaskOptions{SkipIfRunning: true}, job)
}

func (s *Service) add(eng Enqueuer, name, schedule string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job, opt: opt, eng: eng})
	if s.c == nil {
		return nil
	}
	if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.String("next", s.previewNextRunsLocked(spec, 3)))
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, run, opt := d.name, d.timeout, d.job, d.opt
	eng := d.eng
	if eng == nil {
		eng = s.engine
	}
	loc := s.loc
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() {
		if eng == nil {
			return
		}
		fired := time.Now().In(loc)
		err := eng.Enqueue(engine.Task{
			Name:    name,
			Key:     "schedule:" + name,
			Timeout: timeout,
			Opt:     opt,
			Run: func(ctx context.Context) error {
				return run(withFireTime(ctx, fired))
			},
		})
		s.reportEnqueueError(name, err)
	}))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// previewNextRunsLocked lists upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
