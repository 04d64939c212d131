package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anomalyd/internal/config"
	"anomalyd/internal/task/engine"
	"anomalyd/internal/task/scheduler"
	logx "anomalyd/pkg/logx"
)

const (
	scheduleDispatch = "dispatch"
	scheduleJobPoll  = "jobs.poll"
	schedulePrune    = "reports.prune"
)

// dispatchLaneConfig sizes the single-worker engine that runs dispatch ticks.
var dispatchLaneConfig = engine.Config{Workers: 1, QueueSize: 4, HistorySize: 50, RetryMax: 1}

func specOr(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}

// validateSchedules rejects configs whose trigger specs cannot be parsed.
func validateSchedules(cfg *config.Config) error {
	specs := map[string]string{
		"scheduler.dispatch_spec": specOr(cfg.Scheduler.DispatchSpec, config.DefaultDispatchSpec),
		"scheduler.job_poll_spec": specOr(cfg.Scheduler.JobPollSpec, config.DefaultJobPollSpec),
		"retention.schedule":      specOr(cfg.Retention.Schedule, config.DefaultPruneSpec),
	}
	var errs []error
	for path, spec := range specs {
		if err := scheduler.ValidateSchedule(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// registerSchedules (re)registers the three triggers. AddSchedule replaces
// an existing entry with the same name.
func (a *App) registerSchedules(cfg *config.Config) error {
	if err := validateSchedules(cfg); err != nil {
		return err
	}
	tickTimeout, err := config.ParseDurationField("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout)
	if err != nil {
		return err
	}
	if err := a.sched.AddScheduleOn(a.lane, scheduleDispatch, specOr(cfg.Scheduler.DispatchSpec, config.DefaultDispatchSpec), tickTimeout, a.tick); err != nil {
		return err
	}
	if err := a.sched.AddSchedule(scheduleJobPoll, specOr(cfg.Scheduler.JobPollSpec, config.DefaultJobPollSpec), 0, a.pollJobs); err != nil {
		return err
	}

	maxAge, err := config.ParseDurationField("retention.max_age", cfg.Retention.MaxAge)
	if err != nil {
		return err
	}
	if maxAge <= 0 {
		a.sched.Remove(schedulePrune)
		return nil
	}
	return a.sched.AddSchedule(schedulePrune, specOr(cfg.Retention.Schedule, config.DefaultPruneSpec), 0, func(ctx context.Context) error {
		return a.prune(ctx, maxAge)
	})
}

// tick is the dispatch trigger. It evaluates the minute the trigger fired in,
// not the minute the task got a worker.
func (a *App) tick(ctx context.Context) error {
	now, ok := scheduler.FireTime(ctx)
	if !ok {
		now = time.Now()
	}
	res, err := a.cycle.Tick(ctx, now)
	if res.Due > 0 || res.Failed > 0 {
		a.log.Info("dispatch tick",
			logx.Int("due", res.Due),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
		)
	}
	return err
}

// pollJobs queues one detection task per due job. A job already queued or
// running is skipped.
func (a *App) pollJobs(ctx context.Context) error {
	due, err := a.jobs.Due(ctx, time.Now())
	if err != nil {
		return err
	}
	queued := 0
	for _, j := range due {
		id := j.ID
		err := a.engine.Enqueue(engine.Task{
			Name: "detect",
			Key:  "job:" + id,
			Opt:  engine.TaskOptions{SkipIfRunning: true},
			Run: func(c context.Context) error {
				_, err := a.runner.Run(c, id)
				return err
			},
		})
		switch {
		case err == nil:
			queued++
		case errors.Is(err, engine.ErrOverlapSkip):
		default:
			a.log.Warn("detection task not queued", logx.String("job", id), logx.Err(err))
		}
	}
	if queued > 0 {
		a.log.Debug("detection tasks queued", logx.Int("count", queued))
	}
	return nil
}

func (a *App) prune(ctx context.Context, maxAge time.Duration) error {
	n, err := a.reports.Prune(ctx, time.Now().Add(-maxAge))
	if n > 0 {
		a.log.Info("reports pruned", logx.Int("removed", n), logx.Duration("max_age", maxAge))
	}
	return err
}
