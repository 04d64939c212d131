// Package dispatch decides, once per minute, which targets are due for their
// cadence digest and delivers one rendered message to each. It also carries
// the job-context delivery used right after a detection run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"anomalyd/internal/digest"
	"anomalyd/internal/eventbus"
	"anomalyd/internal/model"
	"anomalyd/internal/targets"
	"anomalyd/pkg/logx"
)

// Sender delivers one rendered message to a target.
type Sender interface {
	Send(ctx context.Context, t model.Target, msg digest.Message) error
}

// Targets is the part of the target registry the cycle reads.
type Targets interface {
	ListDue(ctx context.Context, c model.Cadence) ([]model.Target, error)
	JobTargets(ctx context.Context, jobID string) ([]model.Target, error)
	FilterInstant(ctx context.Context, targetIDs []string) ([]model.Target, error)
}

// Reports is the part of the report store the cycle reads and acknowledges.
type Reports interface {
	PendingFor(ctx context.Context, targetID string) ([]model.Report, error)
	Acknowledge(ctx context.Context, targetID string, reportIDs ...string) error
}

type Options struct {
	// FailureTarget receives error-case digests in job context. Nil disables them.
	FailureTarget *model.Target
	// Location is the wall clock send-out times are compared in. Defaults to time.Local.
	Location *time.Location
	Bus      eventbus.Bus
}

// Cycle holds the dispatcher state that lives for the whole process.
type Cycle struct {
	targets Targets
	reports Reports
	sender  Sender
	opt     Options
	log     logx.Logger

	mu       sync.Mutex
	lastTick time.Time
	// running is the minute a tick is currently listing targets for.
	running time.Time
}

func New(t Targets, r Reports, s Sender, opt Options, log logx.Logger) *Cycle {
	if opt.Location == nil {
		opt.Location = time.Local
	}
	return &Cycle{
		targets: t,
		reports: r,
		sender:  s,
		opt:     opt,
		log:     log.With(logx.String("comp", "dispatch")),
	}
}

// SetLocation switches the wall clock used by later ticks.
func (c *Cycle) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.opt.Location = loc
	c.mu.Unlock()
}

// TickResult summarizes one tick.
type TickResult struct {
	// Duplicate is set when the minute was already processed.
	Duplicate bool
	Due       int
	Sent      int
	Failed    int
}

// DigestEvent is published for every digest attempt.
type DigestEvent struct {
	Target  string   `json:"target"`
	Case    string   `json:"case"`
	Reports []string `json:"reports"`
	Error   string   `json:"error,omitempty"`
}

// Cadences returns the cadences evaluated at now: DAY and HOUR always, then
// MONTH on the first of the month, else WEEK on Mondays.
func Cadences(now time.Time) []model.Cadence {
	out := []model.Cadence{model.CadenceDay, model.CadenceHour}
	switch {
	case now.Day() == 1:
		out = append(out, model.CadenceMonth)
	case now.Weekday() == time.Monday:
		out = append(out, model.CadenceWeek)
	}
	return out
}

// Tick runs one dispatch pass for the minute containing now. A second call
// for the same minute does nothing once the first one has listed its due
// targets. A listing failure sends nothing and leaves the minute open, so a
// retried tick does the whole pass. Send failures are counted and logged.
func (c *Cycle) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	c.mu.Lock()
	now = now.In(c.opt.Location)
	minute := now.Truncate(time.Minute)
	if minute.Equal(c.lastTick) || minute.Equal(c.running) {
		c.mu.Unlock()
		c.log.Debug("duplicate tick ignored", logx.Time("minute", minute))
		return TickResult{Duplicate: true}, nil
	}
	c.running = minute
	c.mu.Unlock()

	due, err := c.listDue(ctx, now)
	c.mu.Lock()
	c.running = time.Time{}
	if err == nil {
		c.lastTick = minute
	}
	c.mu.Unlock()
	if err != nil {
		return TickResult{}, err
	}

	var (
		res  TickResult
		errs []error
	)
	res.Due = len(due)

	for _, t := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		sent, err := c.deliverPending(ctx, t)
		switch {
		case err != nil:
			res.Failed++
		case sent:
			res.Sent++
		}
	}
	if res.Due > 0 {
		c.log.Info("dispatch tick",
			logx.Time("minute", minute),
			logx.Int("due", res.Due),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
		)
	}
	return res, errors.Join(errs...)
}

// listDue collects the targets due at now across the evaluated cadences,
// each target once.
func (c *Cycle) listDue(ctx context.Context, now time.Time) ([]model.Target, error) {
	var (
		due  []model.Target
		seen = map[string]bool{}
	)
	for _, cad := range Cadences(now) {
		list, err := c.targets.ListDue(ctx, cad)
		if err != nil {
			c.log.Error("list due targets failed", logx.String("cadence", string(cad)), logx.Err(err))
			return nil, fmt.Errorf("list %s targets: %w", cad, err)
		}
		for _, t := range list {
			if seen[t.ID] || !targets.IsDueNow(t, cad, now) {
				continue
			}
			seen[t.ID] = true
			due = append(due, t)
		}
	}
	return due, nil
}

// deliverPending sends the target's pending reports as one digest.
func (c *Cycle) deliverPending(ctx context.Context, t model.Target) (bool, error) {
	pending, err := c.reports.PendingFor(ctx, t.ID)
	if err != nil {
		c.log.Error("load pending reports failed", logx.String("target", t.ID), logx.Err(err))
		return false, err
	}
	batch := digest.Pending(pending)
	kind := digest.Classify(batch)
	if kind == digest.CaseNone {
		return false, nil
	}
	return true, c.send(ctx, t, kind, batch)
}

// send renders and delivers one digest, acknowledging the batch on success.
func (c *Cycle) send(ctx context.Context, t model.Target, kind digest.Case, batch []model.Report) error {
	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	ev := DigestEvent{Target: t.ID, Case: kind.String(), Reports: ids}

	msg := digest.Render(t, kind, batch)
	if err := c.sender.Send(ctx, t, msg); err != nil {
		ev.Error = err.Error()
		eventbus.Publish(c.opt.Bus, eventbus.TypeDigestFailed, ev)
		c.log.Warn("digest send failed",
			logx.String("target", t.ID),
			logx.String("case", kind.String()),
			logx.Int("reports", len(batch)),
			logx.Err(err),
		)
		return err
	}
	eventbus.Publish(c.opt.Bus, eventbus.TypeDigestSent, ev)
	if err := c.reports.Acknowledge(ctx, t.ID, ids...); err != nil {
		// Delivered but still indexed: the next due tick sends it again.
		c.log.Warn("acknowledge failed", logx.String("target", t.ID), logx.Err(err))
	}
	c.log.Debug("digest sent", logx.String("target", t.ID), logx.String("case", kind.String()), logx.Int("reports", len(batch)))
	return nil
}

// JobDelivery describes a job-context delivery.
type JobDelivery struct {
	Case digest.Case
	// Target is the id the digest went to, empty when nothing was sent.
	Target string
	// Skipped are further eligible targets that were not sent to.
	Skipped []string
}

// DeliverForJob routes a just-written report batch of job. The error case
// goes to the failure target only. The no-data case goes to the job's
// instant targets when the job notifies on no data. Anything else goes to
// the job's instant targets. Only the first eligible target is sent to.
func (c *Cycle) DeliverForJob(ctx context.Context, job model.Job, batch []model.Report) (JobDelivery, error) {
	batch = digest.Pending(batch)
	d := JobDelivery{Case: digest.Classify(batch)}

	var recipients []model.Target
	switch d.Case {
	case digest.CaseNone:
		return d, nil
	case digest.CaseError:
		if c.opt.FailureTarget == nil {
			c.log.Warn("error report without failure target", logx.String("job", job.ID))
			return d, nil
		}
		recipients = []model.Target{*c.opt.FailureTarget}
	case digest.CaseNoData:
		if !job.NotifyOnNoData {
			return d, nil
		}
		fallthrough
	default:
		var err error
		recipients, err = c.instantTargets(ctx, job.ID)
		if err != nil {
			return d, err
		}
	}
	if len(recipients) == 0 {
		return d, nil
	}

	first := recipients[0]
	for _, t := range recipients[1:] {
		d.Skipped = append(d.Skipped, t.ID)
	}
	if len(d.Skipped) > 0 {
		c.log.Info("job digest sent to first target only",
			logx.String("job", job.ID),
			logx.String("target", first.ID),
			logx.Any("skipped", d.Skipped),
		)
	}
	if err := c.send(ctx, first, d.Case, batch); err != nil {
		return d, err
	}
	d.Target = first.ID
	return d, nil
}

func (c *Cycle) instantTargets(ctx context.Context, jobID string) ([]model.Target, error) {
	all, err := c.targets.JobTargets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(all))
	for i, t := range all {
		ids[i] = t.ID
	}
	return c.targets.FilterInstant(ctx, ids)
}
