package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"anomalyd/internal/config"
	"anomalyd/internal/detection"
	"anomalyd/internal/dispatch"
	"anomalyd/internal/eventbus"
	"anomalyd/internal/eventbus/natsbridge"
	"anomalyd/internal/jobs"
	"anomalyd/internal/model"
	"anomalyd/internal/notifier"
	"anomalyd/internal/reports"
	"anomalyd/internal/runtime/supervisor"
	"anomalyd/internal/storage"
	"anomalyd/internal/store"
	"anomalyd/internal/targets"
	"anomalyd/internal/task/engine"
	"anomalyd/internal/task/scheduler"
	logx "anomalyd/pkg/logx"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	backend store.Backend

	targets *targets.Registry
	reports *reports.Store
	jobs    *jobs.Store

	notif  *notifier.Service
	cycle  *dispatch.Cycle
	runner *detection.Runner

	engine *engine.Service
	// lane runs dispatch ticks only, so detection runs never delay them.
	lane   *engine.Service
	sched  *scheduler.Service

	nc      *nats.Conn
	started time.Time
}

// NewApp loads the config and builds the component graph. Nothing runs
// until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Bootstrap logging with alerts off: the alert sender needs the notifier,
	// which needs a logger.
	bootCfg := mapLoggingConfig(cfg)
	bootCfg.Alert.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, log.With(logx.String("comp", "notifier")))
	webhook := notifier.NewWebhook()
	notif.Register("http", webhook)
	notif.Register("https", webhook)
	if tok := strings.TrimSpace(cfg.Notifier.Telegram.Token); tok != "" {
		tg, err := notifier.NewTelegram(tok, "")
		if err != nil {
			return nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		notif.Register("telegram", tg)
	}

	if dest := strings.TrimSpace(cfg.Logging.Alert.Destination); dest != "" {
		logSvc.SetAlertSender(notifier.NewAlertSender(notif, dest))
	}
	logSvc.Apply(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		backend: backend,
		targets: targets.New(backend, log),
		reports: reports.New(backend, bus, log),
		jobs:    jobs.New(backend, log),
		notif:   notif,
	}

	a.cycle = dispatch.New(a.targets, a.reports, notif, dispatch.Options{
		FailureTarget: failureTarget(cfg),
		Location:      location(cfg),
		Bus:           bus,
	}, log)

	var src detection.Source
	if u := strings.TrimSpace(cfg.Detection.SourceURL); u != "" {
		timeout, err := config.ParseDurationOrDefault("detection.source_timeout", cfg.Detection.SourceTimeout, 30*time.Second)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		src = detection.NewHTTPSource(u, timeout)
	} else {
		log.Warn("detection.source_url not set; every run degrades to a placeholder report")
	}
	det := detection.RobustZ{}
	a.runner = detection.NewRunner(a.jobs, a.reports, src, det, detection.NewBuilder(det), detection.Options{
		ReportFailuresAsError: cfg.Detection.ReportFailuresAsError,
		Bus:                   bus,
	}, log)
	a.runner.OnWritten(a.deliverForJob)

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	a.lane = engine.New(dispatchLaneConfig, log.With(logx.String("comp", "taskengine"), logx.String("lane", scheduleDispatch)), bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, log.With(logx.String("comp", "scheduler")))

	return a, nil
}

func (a *App) Targets() *targets.Registry { return a.targets }
func (a *App) Reports() *reports.Store { return a.reports }
func (a *App) Jobs() *jobs.Store { return a.jobs }
func (a *App) Dispatch() *dispatch.Cycle { return a.cycle }
func (a *App) Runner() *detection.Runner { return a.runner }
func (a *App) Notifier() *notifier.Service { return a.notif }
func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger { return a.log }
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateSchedules(cfg)
	})

	if n, err := a.jobs.ResetRunning(ctx); err != nil {
		return fmt.Errorf("reset running jobs: %w", err)
	} else if n > 0 {
		a.log.Warn("jobs left running by a previous process were reset", logx.Int("count", n))
	}

	if err := a.registerSchedules(a.cfgm.Get()); err != nil {
		return err
	}
	a.engine.Start(a.sup.Context())
	a.lane.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	if !a.sched.Enabled() {
		a.log.Warn("scheduler disabled; digests and job polling will not run")
	}

	if nc := a.cfgm.Get().NATS; nc != nil {
		conn, err := natsbridge.Connect(nc.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		a.nc = conn
		br := natsbridge.New(conn, nc.SubjectPrefix, a.log)
		a.sup.GoRestart("nats.bridge", func(c context.Context) error { return br.Run(c, a.bus) })
		a.log.Info("nats bridge enabled", logx.String("url", nc.URL))
	}

	if oc := a.cfgm.Get().Ops; oc != nil {
		srv := a.opsServer(oc.Addr, oc.Token)
		a.sup.GoRestart("ops.http", srv.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig applies the live-reloadable sections and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if dest := strings.TrimSpace(next.Logging.Alert.Destination); dest != "" {
		a.logs.SetAlertSender(notifier.NewAlertSender(a.notif, dest))
	}
	a.logs.Apply(mapLoggingConfig(next))

	a.sched.Apply(mapSchedulerConfig(next))
	a.cycle.SetLocation(location(next))
	if err := a.registerSchedules(next); err != nil {
		a.log.Warn("schedules not updated; keeping previous", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if restart {
		a.log.Warn("some changed sections apply only after a restart", logx.String("changed", strings.Join(sections, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatch", 2*time.Second, func(c context.Context) error { a.lane.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("nats", time.Second, func(c context.Context) error {
		if a.nc != nil {
			return a.nc.FlushWithContext(c)
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	return a.Close()
}

// Close releases the store, the NATS connection and the log sinks. It is
// what one-shot commands call instead of Stop.
func (a *App) Close() error {
	if a.nc != nil {
		a.nc.Close()
		a.nc = nil
	}
	var err error
	if a.backend != nil {
		err = a.backend.Close()
		a.backend = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// deliverForJob is the detection hook that sends job-context digests to
// INSTANT targets and the failure target.
func (a *App) deliverForJob(ctx context.Context, job model.Job, batch []model.Report) {
	res, err := a.cycle.DeliverForJob(ctx, job, batch)
	if err != nil {
		a.log.Warn("job-context delivery failed", logx.String("job", job.ID), logx.String("case", res.Case.String()), logx.Err(err))
	}
}
