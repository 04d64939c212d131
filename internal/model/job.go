package model

import "time"

// Job is a monitored metric evaluated on a fixed frequency.
type Job struct {
	ID          string
	Owner       string
	TestName    string
	Description string
	Metric      string
	// SourceQuery is passed to the time-series source.
	SourceQuery string
	QueryURL    string

	Granularity      Granularity
	GranularityRange int
	Frequency        Granularity
	SigmaThreshold   float64
	WindowSize       int

	Status         JobStatus
	NotifyOnNoData bool

	// ReportNominalTime is the window the last run evaluated.
	ReportNominalTime time.Time
	// EffectiveQueryTime is when the last run queried its source.
	EffectiveQueryTime time.Time
}

// NextNominalTime is the window a run at now would evaluate: the last fully
// elapsed period of the job frequency.
func (j Job) NextNominalTime(now time.Time) time.Time {
	f := j.Frequency
	if f == "" {
		f = j.Granularity
	}
	return f.Add(f.Truncate(now), -1)
}

// DueAt reports whether a new window has elapsed since the last run.
func (j Job) DueAt(now time.Time) bool {
	if j.Status == JobRunning {
		return false
	}
	next := j.NextNominalTime(now)
	return j.ReportNominalTime.IsZero() || next.After(j.ReportNominalTime)
}
