package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"anomalyd/internal/observability/opshttp"
)

const (
	DefaultDispatchSpec = "0 * * * * *"
	DefaultJobPollSpec  = "30 * * * * *"
	DefaultPruneSpec    = "0 15 3 * * *"
)

// Validate checks a parsed config for values that cannot be applied.
// It is installed as the Manager validator so bad hot reloads are rejected.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			errs = append(errs, errors.New("store.path: required for sqlite driver"))
		}
	case "redis":
		if strings.TrimSpace(cfg.Store.Redis.Addr) == "" {
			errs = append(errs, errors.New("store.redis.addr: required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", cfg.Store.Driver))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	durations := map[string]string{
		"scheduler.dispatch_timeout":  cfg.Scheduler.DispatchTimeout,
		"task_engine.default_timeout": cfg.TaskEngine.DefaultTimeout,
		"store.busy_timeout":          cfg.Store.BusyTimeout,
		"notifier.retry_base":         cfg.Notifier.RetryBase,
		"notifier.retry_max_delay":    cfg.Notifier.RetryMaxDelay,
		"notifier.timeout":            cfg.Notifier.Timeout,
		"detection.source_timeout":    cfg.Detection.SourceTimeout,
		"retention.max_age":           cfg.Retention.MaxAge,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format))
	}
	if cfg.TaskEngine.Workers < 0 {
		errs = append(errs, errors.New("task_engine.workers: must be >= 0"))
	}
	if cfg.TaskEngine.QueueSize < 0 {
		errs = append(errs, errors.New("task_engine.queue_size: must be >= 0"))
	}
	if cfg.Logging.Alert.Enabled && strings.TrimSpace(cfg.Logging.Alert.Destination) == "" {
		errs = append(errs, errors.New("logging.alert.destination: required when alert is enabled"))
	}
	if ft := cfg.Alerts.FailureTarget; ft != nil && strings.TrimSpace(ft.Destination) == "" {
		errs = append(errs, errors.New("alerts.failure_target.destination: required"))
	}
	if cfg.NATS != nil && strings.TrimSpace(cfg.NATS.URL) == "" {
		errs = append(errs, errors.New("nats.url: required when nats section is present"))
	}
	if cfg.Ops != nil {
		addr := strings.TrimSpace(cfg.Ops.Addr)
		if addr == "" {
			addr = "127.0.0.1:6060"
		}
		if err := opshttp.CheckAddr(addr, cfg.Ops.Token); err != nil {
			errs = append(errs, fmt.Errorf("ops.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}
