// Package targets keeps notification target records, their cadence index
// membership, and their association with jobs.
package targets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"anomalyd/internal/model"
	"anomalyd/internal/store"
	"anomalyd/pkg/logx"
)

// Registry is safe for concurrent use.
type Registry struct {
	st  *store.Store[model.Target]
	log logx.Logger
}

func New(b store.Backend, log logx.Logger) *Registry {
	return &Registry{
		st:  store.New(b, model.TargetKind),
		log: log.With(logx.String("comp", "targets")),
	}
}

// RegisterIfNew creates the default target record on first sight and always
// records the job association in both directions. When the target already
// exists its cadence membership is restored. created reports whether this
// call wrote the record.
func (r *Registry) RegisterIfNew(ctx context.Context, targetID, destination, name, icon, mention, jobID string) (created bool, err error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return false, &model.ValidationError{Field: "targetId", Reason: "must not be empty"}
	}
	var assocs []store.Assoc
	if jobID != "" {
		assocs = []store.Assoc{
			{Key: model.TargetJobIndex(targetID), Member: jobID},
			{Key: model.JobTargetIndex(jobID), Member: targetID},
		}
	}
	created, err = r.st.PutIfAbsent(ctx, targetID, func() model.Target {
		return model.NewTarget(targetID, destination, name, icon, mention)
	}, assocs...)
	if err != nil || created {
		if created {
			r.log.Info("target registered", logx.String("target", targetID), logx.String("job", jobID))
		}
		return created, err
	}

	// The creator's write may still be in flight; its Stage indexes the cadence.
	existing, err := r.st.Get(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if existing.RepeatInterval != "" {
		if err := r.st.AddToIndex(ctx, model.TargetCadenceIndex(existing.RepeatInterval), targetID); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Put validates t and overwrites the stored record, moving it between
// cadence indices in the same batch when the cadence changed.
func (r *Registry) Put(ctx context.Context, t model.Target) error {
	if t.SendOutHour == "" {
		t.SendOutHour = model.DefaultSendOutHour
	}
	if t.SendOutMinute == "" {
		t.SendOutMinute = model.DefaultSendOutMinute
	}
	if t.RepeatInterval == "" {
		t.RepeatInterval = model.CadenceInstant
	}
	if err := model.ValidateTarget(t); err != nil {
		return err
	}
	if c, err := model.ParseCadence(string(t.RepeatInterval)); err == nil {
		t.RepeatInterval = c
	}

	prev, err := r.st.Get(ctx, t.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	p := r.st.Backend().Pipeline()
	if err == nil && prev.RepeatInterval != "" && prev.RepeatInterval != t.RepeatInterval {
		p.SRem(model.TargetCadenceIndex(prev.RepeatInterval), t.ID)
	}
	r.st.Stage(p, &t)
	if err := store.Exec(ctx, "target-put", p); err != nil {
		return err
	}
	r.log.Info("target updated", logx.String("target", t.ID), logx.String("cadence", string(t.RepeatInterval)))
	return nil
}

func (r *Registry) Get(ctx context.Context, targetID string) (model.Target, error) {
	return r.st.Get(ctx, targetID)
}

// All lists every registered target ordered by id.
func (r *Registry) All(ctx context.Context) ([]model.Target, error) {
	out, err := r.st.GetAll(ctx)
	sortByID(out)
	return out, err
}

// ListDue returns the targets subscribed to cadence, ordered by id.
func (r *Registry) ListDue(ctx context.Context, c model.Cadence) ([]model.Target, error) {
	out, err := r.st.GetAllByIndex(ctx, model.TargetCadenceIndex(c))
	sortByID(out)
	return out, err
}

// JobTargets returns the targets associated with jobID, ordered by id.
func (r *Registry) JobTargets(ctx context.Context, jobID string) ([]model.Target, error) {
	out, err := r.st.GetAllByIndex(ctx, model.JobTargetIndex(jobID))
	sortByID(out)
	return out, err
}

// JobIDs lists the jobs a target is associated with.
func (r *Registry) JobIDs(ctx context.Context, targetID string) ([]string, error) {
	return r.st.Members(ctx, model.TargetJobIndex(targetID))
}

// FilterInstant keeps the ids that are subscribed to the INSTANT cadence and
// returns their records, in the order given.
func (r *Registry) FilterInstant(ctx context.Context, targetIDs []string) ([]model.Target, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}
	instant, err := r.st.Members(ctx, model.TargetCadenceIndex(model.CadenceInstant))
	if err != nil {
		return nil, err
	}
	in := make(map[string]struct{}, len(instant))
	for _, id := range instant {
		in[id] = struct{}{}
	}
	keep := make([]string, 0, len(targetIDs))
	for _, id := range targetIDs {
		if _, ok := in[id]; ok {
			keep = append(keep, id)
		}
	}
	return r.st.GetMany(ctx, keep)
}

// Unsubscribe removes the target from one cadence index. The record stays.
func (r *Registry) Unsubscribe(ctx context.Context, targetID string, c model.Cadence) error {
	return r.st.RemoveFromIndex(ctx, model.TargetCadenceIndex(c), targetID)
}

// Delete removes the record, every cadence membership, the job associations
// in both directions and the target's pending report index in one batch.
func (r *Registry) Delete(ctx context.Context, t model.Target) error {
	jobIDs, err := r.JobIDs(ctx, t.ID)
	if err != nil {
		return err
	}
	cadences := model.Cadences()
	from := make([]string, 0, len(cadences)+len(jobIDs))
	for _, c := range cadences {
		from = append(from, model.TargetCadenceIndex(c))
	}
	for _, j := range jobIDs {
		from = append(from, model.JobTargetIndex(j))
	}
	err = r.st.Remove(ctx, t.ID, store.RemoveOptions{
		FromIndices: from,
		DropKeys:    []string{model.TargetReportIndex(t.ID), model.TargetJobIndex(t.ID)},
	})
	if err != nil {
		return fmt.Errorf("delete target %s: %w", t.ID, err)
	}
	r.log.Info("target deleted", logx.String("target", t.ID), logx.Int("jobs", len(jobIDs)))
	return nil
}

// IsDueNow reports whether t should receive its cadence digest at now.
// HOUR targets match on the minute only; every other cadence needs both
// hour and minute to match. now is taken in its own location.
func IsDueNow(t model.Target, c model.Cadence, now time.Time) bool {
	hour, minute := t.SendOut()
	if now.Minute() != minute {
		return false
	}
	return c == model.CadenceHour || now.Hour() == hour
}

func sortByID(ts []model.Target) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}
