package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
)

const (
	// DefaultThreshold applies when a job has no sigma threshold.
	DefaultThreshold = 3.5
	// DefaultWindowSize is the baseline length when a job sets none.
	DefaultWindowSize = 24
	minBaseline       = 3
	madScale          = 0.6745
	epsilon           = 1e-9
)

// RobustZ scores each point of the evaluation window against the median and
// median absolute deviation of the WindowSize points before the window.
type RobustZ struct{}

func (RobustZ) Name() string { return "robust-z" }

func (RobustZ) Detect(ctx context.Context, s Series, p Params) ([]Anomaly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	window := p.WindowSize
	if window <= 0 {
		window = DefaultWindowSize
	}
	freq := p.Frequency
	if freq == "" {
		freq = p.Granularity
	}
	start := p.NominalTime
	end := freq.Add(start, 1)

	var baseline []float64
	var out []Anomaly
	for _, pt := range s.Points {
		switch {
		case pt.Time.Before(start):
			baseline = append(baseline, pt.Value)
		case pt.Time.Before(end):
			if len(baseline) > window {
				baseline = baseline[len(baseline)-window:]
			}
			if len(baseline) < minBaseline {
				return nil, fmt.Errorf("%w: %d points before %s", ErrInsufficientData, len(baseline), start.Format("2006-01-02 15:04"))
			}
			if a, ok := score(baseline, pt, threshold); ok {
				a.GroupBy = s.GroupBy
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func score(baseline []float64, pt Point, threshold float64) (Anomaly, bool) {
	med := Median(baseline)
	mad := MAD(baseline, med)
	a := Anomaly{Time: pt.Time, Value: pt.Value, Expected: med, Deviation: deviation(pt.Value, med)}
	if mad == 0 {
		if math.Abs(pt.Value-med) <= epsilon {
			return a, false
		}
		a.Score = math.Copysign(math.Inf(1), pt.Value-med)
		return a, true
	}
	a.Score = madScale * (pt.Value - med) / mad
	return a, math.Abs(a.Score) >= threshold
}

func deviation(v, expected float64) float64 {
	if math.Abs(expected) <= epsilon {
		return 0
	}
	return (v - expected) / math.Abs(expected) * 100
}

func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// MAD is the median absolute deviation from median.
func MAD(values []float64, median float64) float64 {
	if len(values) == 0 {
		return 0
	}
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - median)
	}
	return Median(dev)
}
