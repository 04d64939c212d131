package detection

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"anomalyd/internal/model"
)

// Builder is the default ReportBuilder: one WARNING report per anomalous
// series, ids are UUIDv7.
type Builder struct {
	// ModelInfo describes the detector in reports.
	ModelInfo string
	// NewID and Now may be replaced in tests.
	NewID func() string
	Now   func() time.Time
}

func NewBuilder(d Detector) *Builder {
	return &Builder{ModelInfo: d.Name()}
}

func (b *Builder) id() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.Must(uuid.NewV7()).String()
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) base(job model.Job, st model.Status) model.Report {
	freq := job.Frequency
	if freq == "" {
		freq = job.Granularity
	}
	return model.Report{
		ID:          b.id(),
		JobID:       job.ID,
		NominalTime: job.ReportNominalTime,
		Frequency:   freq,
		Status:      st,
		TestName:    job.TestName,
		Metric:      job.Metric,
		ModelInfo:   b.modelInfo(job),
		QueryURL:    job.QueryURL,
		GeneratedAt: b.now().UTC(),
	}
}

func (b *Builder) modelInfo(job model.Job) string {
	threshold := job.SigmaThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	window := job.WindowSize
	if window <= 0 {
		window = DefaultWindowSize
	}
	return fmt.Sprintf("%s(threshold=%g, window=%d)", b.ModelInfo, threshold, window)
}

// BuildReports groups anomalies by series in first-seen order. The report
// deviation is the largest one of its series.
func (b *Builder) BuildReports(anomalies []Anomaly, job model.Job) ([]model.Report, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}
	if job.ReportNominalTime.IsZero() {
		return nil, fmt.Errorf("job %s has no nominal time", job.ID)
	}
	index := map[string]int{}
	var out []model.Report
	for _, a := range anomalies {
		i, ok := index[a.GroupBy]
		if !ok {
			r := b.base(job, model.StatusWarning)
			r.GroupBy = a.GroupBy
			out = append(out, r)
			i = len(out) - 1
			index[a.GroupBy] = i
		}
		r := &out[i]
		r.AnomalyTimes = append(r.AnomalyTimes, a.Time.UTC())
		if math.Abs(a.Deviation) > math.Abs(r.Deviation) {
			r.Deviation = a.Deviation
		}
	}
	return out, nil
}

// BuildPlaceholder is the single NODATA report of a window without findings.
func (b *Builder) BuildPlaceholder(job model.Job) model.Report {
	return b.base(job, model.StatusNoData)
}
