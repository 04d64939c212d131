// Package detection runs one detection pass for one job: it loads the job's
// time series, finds anomalies, and replaces the reports of the evaluated
// window.
package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anomalyd/internal/model"
)

// Point is one sample of a series.
type Point struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// Series is one time series of a job, sorted by time. GroupBy names the
// dimension values it was split on ("" for an ungrouped metric).
type Series struct {
	GroupBy string  `json:"group_by"`
	Points  []Point `json:"points"`
}

// Anomaly is one anomalous point.
type Anomaly struct {
	GroupBy  string
	Time     time.Time
	Value    float64
	Expected float64
	Score    float64
	// Deviation is the relative distance from Expected, in percent.
	Deviation float64
}

// Params are the detection knobs taken from the job.
type Params struct {
	Threshold   float64
	NominalTime time.Time
	Frequency   model.Granularity
	Granularity model.Granularity
	WindowSize  int
}

// Detector finds anomalies in the evaluation window of one series.
type Detector interface {
	Name() string
	Detect(ctx context.Context, s Series, p Params) ([]Anomaly, error)
}

// ReportBuilder turns anomalies into reports. The job carries the nominal
// time being evaluated in ReportNominalTime.
type ReportBuilder interface {
	BuildReports(anomalies []Anomaly, job model.Job) ([]model.Report, error)
	BuildPlaceholder(job model.Job) model.Report
}

// Source loads a job's series for [from, to).
type Source interface {
	Fetch(ctx context.Context, job model.Job, from, to time.Time) ([]Series, error)
}

var (
	// ErrInsufficientData means the baseline is too short to score against.
	ErrInsufficientData = errors.New("detection: insufficient baseline data")
	// ErrNoSource means no time-series source is configured.
	ErrNoSource = errors.New("detection: no source configured")
)

// Failure wraps an error from the fetch, detect or build step.
type Failure struct {
	JobID string
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("detection %s for job %s: %v", f.Stage, f.JobID, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }
