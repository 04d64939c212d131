package config

// Config is the root document of anomalyd.json / anomalyd.yaml.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Store      StoreConfig      `json:"store"`
	Notifier   NotifierConfig   `json:"notifier"`
	Alerts     AlertsConfig     `json:"alerts"`
	Detection  DetectionConfig  `json:"detection"`
	Retention  RetentionConfig  `json:"retention"`

	// NATS is optional; nil disables the event bridge.
	NATS *NATSConfig `json:"nats,omitempty"`

	// Ops is optional; nil disables the operator HTTP listener.
	Ops *OpsConfig `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format is "console" (default) or "json" for stdout.
	Format string       `json:"format,omitempty"`
	File   LoggingFile  `json:"file"`
	Alert  LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards WARN/ERROR log lines to an operator destination
// (any destination the notifier understands, e.g. a webhook URL or telegram://chat).
type LoggingAlert struct {
	Enabled     bool   `json:"enabled"`
	Destination string `json:"destination,omitempty"`
	MinLevel    string `json:"min_level,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the cron triggers.
//
// Defaults (when fields are omitted/zero):
//   - dispatch_spec: "0 * * * * *" (every minute, on the minute)
//   - job_poll_spec: "30 * * * * *"
//   - timezone: "Local"
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	DispatchSpec string `json:"dispatch_spec,omitempty"`
	JobPollSpec  string `json:"job_poll_spec,omitempty"`

	// DispatchTimeout bounds one dispatch tick. "0s" disables it.
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs detection jobs.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// StoreConfig selects the persistence backend.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./data/anomalyd.db" }
type StoreConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

type NotifierConfig struct {
	RatePerSec    int            `json:"rate_per_sec,omitempty"`
	RetryMax      int            `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	RetryMaxDelay string         `json:"retry_max_delay,omitempty"`
	Timeout       string         `json:"timeout,omitempty"`
	Telegram      TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
}

// AlertsConfig holds the operator target that receives ERROR digests.
type AlertsConfig struct {
	FailureTarget *TargetConfig `json:"failure_target,omitempty"`
}

type TargetConfig struct {
	Destination string `json:"destination"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Mention     string `json:"mention"`
}

type DetectionConfig struct {
	// ReportFailuresAsError turns detector failures into ERROR reports instead of
	// the NODATA placeholder.
	ReportFailuresAsError bool   `json:"report_failures_as_error,omitempty"`
	SourceURL             string `json:"source_url,omitempty"`
	SourceTimeout         string `json:"source_timeout,omitempty"`
}

// RetentionConfig controls report pruning. An empty max_age disables it.
type RetentionConfig struct {
	MaxAge   string `json:"max_age,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// OpsConfig serves /healthz, /status, /targets/{id}/pending and /debug/pprof.
// A non-loopback addr requires a token.
type OpsConfig struct {
	Addr  string `json:"addr,omitempty"`
	Token string `json:"token,omitempty"`
}
