package app

import (
	"strings"
	"time"

	"anomalyd/internal/config"
	"anomalyd/internal/model"
	"anomalyd/internal/notifier"
	"anomalyd/internal/storage"
	"anomalyd/internal/task/engine"
	"anomalyd/internal/task/scheduler"
	logx "anomalyd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    strings.EqualFold(strings.TrimSpace(cfg.Logging.Format), "json"),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled && strings.TrimSpace(cfg.Logging.Alert.Destination) != "",
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:        strings.TrimSpace(cfg.Store.Driver),
		Path:          strings.TrimSpace(cfg.Store.Path),
		BusyTimeout:   busy,
		RedisAddr:     strings.TrimSpace(cfg.Store.Redis.Addr),
		RedisPassword: cfg.Store.Redis.Password,
		RedisDB:       cfg.Store.Redis.DB,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	def, err := config.ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: def,
		HistorySize:    cfg.TaskEngine.HistorySize,
		RetryMax:       cfg.TaskEngine.RetryMax,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := config.ParseDurationField("notifier.timeout", nc.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		Timeout:       timeout,
	}, nil
}

// failureTarget maps alerts.failure_target; nil when unset.
func failureTarget(cfg *config.Config) *model.Target {
	ft := cfg.Alerts.FailureTarget
	if ft == nil || strings.TrimSpace(ft.Destination) == "" {
		return nil
	}
	t := model.NewTarget("failure-target", ft.Destination, ft.Name, ft.Icon, ft.Mention)
	return &t
}

// location resolves scheduler.timezone; empty means time.Local.
func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
