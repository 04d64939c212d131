package model

import (
	"strconv"
	"strings"
	"time"
)

// Report is the outcome of one evaluation window of one job.
type Report struct {
	ID          string
	JobID       string
	NominalTime time.Time
	Frequency   Granularity
	Status      Status

	TestName     string
	Metric       string
	GroupBy      string
	AnomalyTimes []time.Time
	Deviation    float64 // percent
	ModelInfo    string
	QueryURL     string
	GeneratedAt  time.Time

	// TargetIDs are the targets the report was indexed under when written.
	TargetIDs []string
}

// Window identifies the evaluation instance a report belongs to.
type Window struct {
	JobID       string
	NominalTime time.Time
	Frequency   Granularity
}

func (r Report) Window() Window {
	return Window{JobID: r.JobID, NominalTime: r.NominalTime, Frequency: r.Frequency}
}

// Pending reports whether the report still awaits notification.
func (r Report) Pending() bool { return r.Status != StatusSuccess }

const displayTime = "2006-01-02 15:04 MST"

// FormattedAnomalyTimes renders anomaly timestamps in UTC, comma separated.
func (r Report) FormattedAnomalyTimes() string {
	if len(r.AnomalyTimes) == 0 {
		return "none"
	}
	parts := make([]string, len(r.AnomalyTimes))
	for i, t := range r.AnomalyTimes {
		parts[i] = t.UTC().Format(displayTime)
	}
	return strings.Join(parts, ", ")
}

func (r Report) FormattedDeviation() string {
	return strconv.FormatFloat(r.Deviation, 'f', 2, 64) + "%"
}

func (r Report) FormattedGeneratedAt() string {
	if r.GeneratedAt.IsZero() {
		return r.NominalTime.UTC().Format(displayTime)
	}
	return r.GeneratedAt.UTC().Format(displayTime)
}

// Clone returns a deep copy.
func (r Report) Clone() Report {
	r.AnomalyTimes = append([]time.Time(nil), r.AnomalyTimes...)
	r.TargetIDs = append([]string(nil), r.TargetIDs...)
	return r
}
