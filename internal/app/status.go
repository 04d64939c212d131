package app

import (
	"context"
	"time"

	"anomalyd/internal/model"
	"anomalyd/internal/observability/opshttp"
	"anomalyd/internal/task/engine"
)

// Status is the /status payload.
type Status struct {
	Started   time.Time        `json:"started"`
	Engine    EngineStatus     `json:"engine"`
	Dispatch  EngineStatus     `json:"dispatch"`
	Schedules []ScheduleStatus `json:"schedules"`
	Jobs      map[string]int   `json:"jobs"`
	Targets   int              `json:"targets"`
	Sends     []SendStatus     `json:"recent_sends"`
}

type EngineStatus struct {
	Running  bool   `json:"running"`
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	InFlight int    `json:"in_flight"`
	Dropped  uint64 `json:"dropped"`
}

type ScheduleStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

type SendStatus struct {
	At     time.Time `json:"at"`
	Target string    `json:"target"`
	Error  string    `json:"error,omitempty"`
}

const statusSends = 20

func engineStatus(es engine.Snapshot) EngineStatus {
	return EngineStatus{
		Running:  es.Running,
		Workers:  es.Workers,
		QueueLen: es.QueueLen,
		QueueCap: es.QueueCap,
		InFlight: es.InFlight,
		Dropped:  es.Dropped,
	}
}

func (a *App) status(ctx context.Context) (Status, error) {
	st := Status{
		Started:  a.started,
		Engine:   engineStatus(a.engine.Snapshot()),
		Dispatch: engineStatus(a.lane.Snapshot()),
		Jobs:     map[string]int{},
	}
	for _, s := range a.sched.Schedules() {
		st.Schedules = append(st.Schedules, ScheduleStatus{Name: s.Name, Spec: s.Spec, Next: s.Next, Prev: s.Prev})
	}

	all, err := a.jobs.All(ctx)
	if err != nil {
		return st, err
	}
	for _, j := range all {
		s := j.Status
		if s == "" {
			s = model.JobCreated
		}
		st.Jobs[string(s)]++
	}
	ts, err := a.targets.All(ctx)
	if err != nil {
		return st, err
	}
	st.Targets = len(ts)

	hist := a.notif.Snapshot()
	if len(hist) > statusSends {
		hist = hist[len(hist)-statusSends:]
	}
	for _, h := range hist {
		st.Sends = append(st.Sends, SendStatus{At: h.At, Target: h.Target, Error: h.Error})
	}
	return st, nil
}

func (a *App) opsServer(addr, token string) *opshttp.Server {
	return opshttp.New(opshttp.Config{Addr: addr, Token: token}, opshttp.Deps{
		Status:  func(ctx context.Context) (any, error) { return a.status(ctx) },
		Pending: a.reports.PendingFor,
	}, a.log)
}
