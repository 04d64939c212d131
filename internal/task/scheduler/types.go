package scheduler

import (
	"context"
	"sync"
	"time"

	"anomalyd/internal/task/engine"
	logx "anomalyd/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// Enqueuer accepts triggered tasks. *engine.Service satisfies it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     engine.TaskOptions
	// eng overrides the service enqueuer when set.
	eng     Enqueuer
	entryID cron.EntryID
}

type fireTimeKey struct{}

// FireTime returns the trigger time of the schedule that started the task
// running under ctx. Retries of one trigger see the same time.
func FireTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(fireTimeKey{}).(time.Time)
	return t, ok
}

func withFireTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, fireTimeKey{}, t)
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}
