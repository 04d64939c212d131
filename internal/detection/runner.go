package detection

import (
	"context"
	"errors"
	"time"

	"anomalyd/internal/eventbus"
	"anomalyd/internal/model"
	"anomalyd/pkg/logx"
)

// Jobs is the job store surface a run needs.
type Jobs interface {
	SetStatus(ctx context.Context, id string, st model.JobStatus, update func(*model.Job)) (model.Job, error)
}

// Reports is the report store surface a run needs.
type Reports interface {
	Supersede(ctx context.Context, w model.Window) (int, error)
	WriteBatch(ctx context.Context, reports []model.Report) ([]model.Report, error)
}

type Options struct {
	// ReportFailuresAsError turns a failed run into an ERROR placeholder
	// instead of the NODATA one.
	ReportFailuresAsError bool
	Bus                   eventbus.Bus
	Now                   func() time.Time
}

// Runner executes detection runs. It is safe for concurrent use across jobs.
type Runner struct {
	jobs     Jobs
	reports  Reports
	source   Source
	detector Detector
	builder  ReportBuilder
	notify   func(ctx context.Context, job model.Job, batch []model.Report)
	opt      Options
	log      logx.Logger
}

func NewRunner(j Jobs, r Reports, src Source, d Detector, b ReportBuilder, opt Options, log logx.Logger) *Runner {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Runner{
		jobs:     j,
		reports:  r,
		source:   src,
		detector: d,
		builder:  b,
		opt:      opt,
		log:      log.With(logx.String("comp", "detection")),
	}
}

// OnWritten registers a hook called with each written batch.
func (r *Runner) OnWritten(fn func(ctx context.Context, job model.Job, batch []model.Report)) {
	r.notify = fn
}

// Result summarizes one run.
type Result struct {
	JobID       string
	NominalTime time.Time
	Anomalies   int
	Reports     []model.Report
	Placeholder bool
	// Failure is the recovered fetch, detect or build error, if any.
	Failure error
}

// FinishedEvent is published after every run.
type FinishedEvent struct {
	JobID       string    `json:"job_id"`
	NominalTime time.Time `json:"nominal_time"`
	Reports     int       `json:"reports"`
	Anomalies   int       `json:"anomalies"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Run evaluates the last elapsed window of jobID. Fetch, detect and build
// failures are logged and degrade to a placeholder report; only store
// failures are returned.
func (r *Runner) Run(ctx context.Context, jobID string) (Result, error) {
	now := r.opt.Now()
	job, err := r.jobs.SetStatus(ctx, jobID, model.JobRunning, func(j *model.Job) {
		j.ReportNominalTime = j.NextNominalTime(now)
		j.EffectiveQueryTime = now.UTC()
	})
	if err != nil {
		return Result{JobID: jobID}, err
	}
	res := Result{JobID: job.ID, NominalTime: job.ReportNominalTime}
	log := r.log.With(logx.String("job", job.ID), logx.Time("nominal", job.ReportNominalTime))

	reports, anomalies, failure := r.detect(ctx, job, log)
	res.Anomalies = anomalies
	res.Failure = failure

	if len(reports) == 0 {
		p := r.builder.BuildPlaceholder(job)
		if failure != nil && r.opt.ReportFailuresAsError {
			p.Status = model.StatusError
		}
		reports = []model.Report{p}
		res.Placeholder = true
	}

	written, err := r.reports.WriteBatch(ctx, reports)
	if err != nil {
		r.finish(ctx, job.ID, model.JobError, res, err)
		return res, err
	}
	res.Reports = written

	final := model.JobSuccess
	switch {
	case failure != nil:
		final = model.JobError
	case res.Placeholder:
		final = model.JobNoData
	}
	r.finish(ctx, job.ID, final, res, nil)

	if r.notify != nil {
		r.notify(ctx, job, written)
	}
	return res, nil
}

// detect runs supersede, fetch, detect and build. Any failure is logged and
// reported back with zero reports.
func (r *Runner) detect(ctx context.Context, job model.Job, log logx.Logger) ([]model.Report, int, error) {
	freq := job.Frequency
	if freq == "" {
		freq = job.Granularity
	}
	w := model.Window{JobID: job.ID, NominalTime: job.ReportNominalTime, Frequency: freq}
	if n, err := r.reports.Supersede(ctx, w); err != nil {
		return nil, 0, r.fail(log, job.ID, "supersede", err)
	} else if n > 0 {
		log.Info("superseded previous reports", logx.Int("removed", n))
	}

	// Without a source there is nothing to evaluate: the run is a no-data
	// outcome, not a failure.
	if r.source == nil {
		log.Debug("no source configured; writing no-data placeholder")
		return nil, 0, nil
	}
	from, to := fetchRange(job, freq)
	series, err := r.source.Fetch(ctx, job, from, to)
	if err != nil {
		return nil, 0, r.fail(log, job.ID, "fetch", err)
	}

	p := Params{
		Threshold:   job.SigmaThreshold,
		NominalTime: job.ReportNominalTime,
		Frequency:   freq,
		Granularity: job.Granularity,
		WindowSize:  job.WindowSize,
	}
	var anomalies []Anomaly
	for _, s := range series {
		found, err := r.detector.Detect(ctx, s, p)
		if err != nil {
			return nil, 0, r.fail(log, job.ID, "detect", err)
		}
		anomalies = append(anomalies, found...)
	}

	reports, err := r.builder.BuildReports(anomalies, job)
	if err != nil {
		return nil, len(anomalies), r.fail(log, job.ID, "build", err)
	}
	return reports, len(anomalies), nil
}

func (r *Runner) fail(log logx.Logger, jobID, stage string, err error) error {
	f := &Failure{JobID: jobID, Stage: stage, Err: err}
	if errors.Is(err, context.Canceled) {
		log.Warn("detection interrupted", logx.String("stage", stage), logx.Err(err))
	} else {
		log.Error("detection failed", logx.String("stage", stage), logx.Err(err))
	}
	return f
}

func (r *Runner) finish(ctx context.Context, jobID string, st model.JobStatus, res Result, writeErr error) {
	if _, err := r.jobs.SetStatus(ctx, jobID, st, nil); err != nil {
		r.log.Error("update job status failed", logx.String("job", jobID), logx.String("status", string(st)), logx.Err(err))
	}
	ev := FinishedEvent{
		JobID:       jobID,
		NominalTime: res.NominalTime,
		Reports:     len(res.Reports),
		Anomalies:   res.Anomalies,
		Status:      string(st),
	}
	switch {
	case writeErr != nil:
		ev.Error = writeErr.Error()
	case res.Failure != nil:
		ev.Error = res.Failure.Error()
	}
	eventbus.Publish(r.opt.Bus, eventbus.TypeDetectionFinished, ev)
	r.log.Info("detection finished",
		logx.String("job", jobID),
		logx.String("status", string(st)),
		logx.Int("reports", len(res.Reports)),
		logx.Int("anomalies", res.Anomalies),
	)
}

// fetchRange covers the baseline before the nominal window plus the window.
func fetchRange(job model.Job, freq model.Granularity) (time.Time, time.Time) {
	g := job.Granularity
	if g == "" {
		g = freq
	}
	lookback := job.WindowSize
	if lookback <= 0 {
		lookback = DefaultWindowSize
	}
	if job.GranularityRange > lookback {
		lookback = job.GranularityRange
	}
	from := g.Add(job.ReportNominalTime, -lookback)
	to := freq.Add(job.ReportNominalTime, 1)
	return from, to
}
