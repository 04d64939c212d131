package model

import (
	"strconv"
	"strings"
	"time"

	"anomalyd/internal/store"
)

func strField[T any](name string, p func(*T) *string) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get:  func(v *T) string { return *p(v) },
		Set:  func(v *T, raw string) error { *p(v) = raw; return nil },
	}
}

// enumField stores a string-kinded enum. An empty value stays empty.
func enumField[T any, E ~string](name string, p func(*T) *E, parse func(string) (E, error)) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get:  func(v *T) string { return string(*p(v)) },
		Set: func(v *T, raw string) error {
			if raw == "" {
				*p(v) = ""
				return nil
			}
			e, err := parse(raw)
			if err != nil {
				return err
			}
			*p(v) = e
			return nil
		},
	}
}

// timeField stores unix seconds; the zero time is stored as "".
func timeField[T any](name string, p func(*T) *time.Time) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get: func(v *T) string {
			if p(v).IsZero() {
				return ""
			}
			return strconv.FormatInt(p(v).Unix(), 10)
		},
		Set: func(v *T, raw string) error {
			if raw == "" {
				*p(v) = time.Time{}
				return nil
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return err
			}
			*p(v) = time.Unix(n, 0).UTC()
			return nil
		},
	}
}

func timesField[T any](name string, p func(*T) *[]time.Time) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get: func(v *T) string {
			parts := make([]string, len(*p(v)))
			for i, t := range *p(v) {
				parts[i] = strconv.FormatInt(t.Unix(), 10)
			}
			return strings.Join(parts, ",")
		},
		Set: func(v *T, raw string) error {
			*p(v) = nil
			if raw == "" {
				return nil
			}
			for _, s := range strings.Split(raw, ",") {
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return err
				}
				*p(v) = append(*p(v), time.Unix(n, 0).UTC())
			}
			return nil
		},
	}
}

func listField[T any](name string, p func(*T) *[]string) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get:  func(v *T) string { return strings.Join(*p(v), ",") },
		Set: func(v *T, raw string) error {
			*p(v) = nil
			if raw != "" {
				*p(v) = strings.Split(raw, ",")
			}
			return nil
		},
	}
}

func floatField[T any](name string, p func(*T) *float64) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get:  func(v *T) string { return strconv.FormatFloat(*p(v), 'f', -1, 64) },
		Set: func(v *T, raw string) error {
			if raw == "" {
				*p(v) = 0
				return nil
			}
			f, err := strconv.ParseFloat(raw, 64)
			*p(v) = f
			return err
		},
	}
}

func intField[T any](name string, p func(*T) *int) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get:  func(v *T) string { return strconv.Itoa(*p(v)) },
		Set: func(v *T, raw string) error {
			if raw == "" {
				*p(v) = 0
				return nil
			}
			n, err := strconv.Atoi(raw)
			*p(v) = n
			return err
		},
	}
}

func boolField[T any](name string, p func(*T) *bool) store.Field[T] {
	return store.Field[T]{
		Name: name,
		Get:  func(v *T) string { return strconv.FormatBool(*p(v)) },
		Set: func(v *T, raw string) error {
			if raw == "" {
				*p(v) = false
				return nil
			}
			b, err := strconv.ParseBool(raw)
			*p(v) = b
			return err
		},
	}
}

var TargetKind = store.Kind[Target]{
	Name:    TargetKindName,
	IDIndex: TargetIDIndex,
	ID:      func(t *Target) string { return t.ID },
	Indices: func(t *Target) []string {
		if t.RepeatInterval == "" {
			return nil
		}
		return []string{TargetCadenceIndex(t.RepeatInterval)}
	},
	Fields: []store.Field[Target]{
		strField("targetId", func(t *Target) *string { return &t.ID }),
		strField("destination", func(t *Target) *string { return &t.Destination }),
		strField("name", func(t *Target) *string { return &t.Name }),
		strField("icon", func(t *Target) *string { return &t.Icon }),
		strField("mention", func(t *Target) *string { return &t.Mention }),
		strField("sendOutHour", func(t *Target) *string { return &t.SendOutHour }),
		strField("sendOutMinute", func(t *Target) *string { return &t.SendOutMinute }),
		enumField("repeatInterval", func(t *Target) *Cadence { return &t.RepeatInterval }, ParseCadence),
	},
}

var ReportKind = store.Kind[Report]{
	Name:    ReportKindName,
	IDIndex: ReportIDIndex,
	ID:      func(r *Report) string { return r.ID },
	Indices: func(r *Report) []string {
		keys := []string{ReportJobIndex(r.JobID), ReportWindowIndex(r.Window())}
		for _, id := range r.TargetIDs {
			keys = append(keys, TargetReportIndex(id))
		}
		return keys
	},
	Fields: []store.Field[Report]{
		strField("reportId", func(r *Report) *string { return &r.ID }),
		strField("jobId", func(r *Report) *string { return &r.JobID }),
		timeField("reportNominalTime", func(r *Report) *time.Time { return &r.NominalTime }),
		enumField("frequency", func(r *Report) *Granularity { return &r.Frequency }, ParseGranularity),
		enumField("status", func(r *Report) *Status { return &r.Status }, ParseStatus),
		strField("testName", func(r *Report) *string { return &r.TestName }),
		strField("metricInfo", func(r *Report) *string { return &r.Metric }),
		strField("groupByFilters", func(r *Report) *string { return &r.GroupBy }),
		timesField("anomalyTimestamps", func(r *Report) *[]time.Time { return &r.AnomalyTimes }),
		floatField("deviation", func(r *Report) *float64 { return &r.Deviation }),
		strField("modelInfo", func(r *Report) *string { return &r.ModelInfo }),
		strField("queryUrl", func(r *Report) *string { return &r.QueryURL }),
		timeField("generatedAt", func(r *Report) *time.Time { return &r.GeneratedAt }),
		listField("targetIds", func(r *Report) *[]string { return &r.TargetIDs }),
	},
}

var JobKind = store.Kind[Job]{
	Name:    JobKindName,
	IDIndex: JobIDIndex,
	ID:      func(j *Job) string { return j.ID },
	Indices: func(j *Job) []string {
		if j.Status == "" {
			return nil
		}
		return []string{JobStatusIndex(j.Status)}
	},
	Fields: []store.Field[Job]{
		strField("jobId", func(j *Job) *string { return &j.ID }),
		strField("owner", func(j *Job) *string { return &j.Owner }),
		strField("testName", func(j *Job) *string { return &j.TestName }),
		strField("description", func(j *Job) *string { return &j.Description }),
		strField("metric", func(j *Job) *string { return &j.Metric }),
		strField("sourceQuery", func(j *Job) *string { return &j.SourceQuery }),
		strField("queryUrl", func(j *Job) *string { return &j.QueryURL }),
		enumField("granularity", func(j *Job) *Granularity { return &j.Granularity }, ParseGranularity),
		intField("granularityRange", func(j *Job) *int { return &j.GranularityRange }),
		enumField("frequency", func(j *Job) *Granularity { return &j.Frequency }, ParseGranularity),
		floatField("sigmaThreshold", func(j *Job) *float64 { return &j.SigmaThreshold }),
		intField("windowSize", func(j *Job) *int { return &j.WindowSize }),
		enumField("jobStatus", func(j *Job) *JobStatus { return &j.Status }, ParseJobStatus),
		boolField("notifyOnNoData", func(j *Job) *bool { return &j.NotifyOnNoData }),
		timeField("reportNominalTime", func(j *Job) *time.Time { return &j.ReportNominalTime }),
		timeField("effectiveQueryTime", func(j *Job) *time.Time { return &j.EffectiveQueryTime }),
	},
}
