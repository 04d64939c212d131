package model

import (
	"fmt"
	"strings"
	"time"
)

// Cadence is how often a target receives a consolidated digest.
type Cadence string

const (
	CadenceInstant Cadence = "INSTANT"
	CadenceMinute  Cadence = "MINUTE"
	CadenceHour    Cadence = "HOUR"
	CadenceDay     Cadence = "DAY"
	CadenceWeek    Cadence = "WEEK"
	CadenceMonth   Cadence = "MONTH"
)

var cadences = []Cadence{CadenceInstant, CadenceMinute, CadenceHour, CadenceDay, CadenceWeek, CadenceMonth}

// Cadences lists every cadence.
func Cadences() []Cadence { return append([]Cadence(nil), cadences...) }

func ParseCadence(s string) (Cadence, error) {
	c := Cadence(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range cadences {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown cadence %q", s)
}

// Status is a report outcome.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusNoData  Status = "NODATA"
	// StatusWarning marks a report that carries anomalies.
	StatusWarning Status = "WARNING"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusSuccess, StatusError, StatusNoData, StatusWarning:
		return st, nil
	default:
		return "", fmt.Errorf("unknown report status %q", s)
	}
}

// JobStatus is the lifecycle state of a detection job.
type JobStatus string

const (
	JobCreated JobStatus = "CREATED"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobError   JobStatus = "ERROR"
	JobNoData  JobStatus = "NODATA"
)

func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case JobCreated, JobRunning, JobSuccess, JobError, JobNoData:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// Granularity is the spacing of a job's time series and its evaluation frequency.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case GranularityMinute, GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// Truncate returns the start of the granularity period containing t, in t's location.
// Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch g {
	case GranularityMinute:
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
	case GranularityHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case GranularityWeek:
		back := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-back, 0, 0, 0, 0, loc)
	case GranularityMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Add moves t forward by n periods.
func (g Granularity) Add(t time.Time, n int) time.Time {
	switch g {
	case GranularityMinute:
		return t.Add(time.Duration(n) * time.Minute)
	case GranularityHour:
		return t.Add(time.Duration(n) * time.Hour)
	case GranularityWeek:
		return t.AddDate(0, 0, 7*n)
	case GranularityMonth:
		return t.AddDate(0, n, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}
