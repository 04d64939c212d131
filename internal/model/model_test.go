package model

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTarget(t *testing.T) {
	t.Parallel()

	base := NewTarget("t1", "https://hooks.example.com/T1", "alerts", ":bell:", "@here")
	cases := []struct {
		name      string
		mutate    func(*Target)
		wantField string
	}{
		{name: "valid", mutate: func(*Target) {}},
		{name: "telegram scheme", mutate: func(t *Target) { t.Destination = "telegram://12345" }},
		{name: "bad scheme", mutate: func(t *Target) { t.Destination = "ftp://x" }, wantField: "destination"},
		{name: "no host", mutate: func(t *Target) { t.Destination = "https://" }, wantField: "destination"},
		{name: "empty name", mutate: func(t *Target) { t.Name = " " }, wantField: "name"},
		{name: "bad icon", mutate: func(t *Target) { t.Icon = "bell" }, wantField: "icon"},
		{name: "empty icon ok", mutate: func(t *Target) { t.Icon = "" }},
		{name: "bad mention", mutate: func(t *Target) { t.Mention = "alice" }, wantField: "mention"},
		{name: "hour range", mutate: func(t *Target) { t.SendOutHour = "24" }, wantField: "sendOutHour"},
		{name: "minute range", mutate: func(t *Target) { t.SendOutMinute = "60" }, wantField: "sendOutMinute"},
		{name: "cadence", mutate: func(t *Target) { t.RepeatInterval = "YEARLY" }, wantField: "repeatInterval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tg := base
			tc.mutate(&tg)
			err := ValidateTarget(tg)
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateTarget() = %v, want nil", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateTarget() = %v, want ValidationError", err)
			}
			if ve.Field != tc.wantField {
				t.Fatalf("Field = %q, want %q", ve.Field, tc.wantField)
			}
		})
	}
}

func TestTargetSendOut(t *testing.T) {
	t.Parallel()

	h, m := Target{SendOutHour: "09", SendOutMinute: "5"}.SendOut()
	if h != 9 || m != 5 {
		t.Fatalf("SendOut() = %d:%d, want 9:5", h, m)
	}
	h, m = Target{SendOutHour: "x"}.SendOut()
	if h != 12 || m != 0 {
		t.Fatalf("SendOut() defaults = %d:%d, want 12:0", h, m)
	}
}

func TestGranularityTruncate(t *testing.T) {
	t.Parallel()

	// Wednesday.
	ts := time.Date(2024, 5, 15, 13, 47, 31, 0, time.UTC)
	cases := []struct {
		g    Granularity
		want time.Time
	}{
		{GranularityMinute, time.Date(2024, 5, 15, 13, 47, 0, 0, time.UTC)},
		{GranularityHour, time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC)},
		{GranularityDay, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)},
		{GranularityWeek, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		{GranularityMonth, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := tc.g.Truncate(ts); !got.Equal(tc.want) {
			t.Fatalf("%s.Truncate() = %v, want %v", tc.g, got, tc.want)
		}
	}

	sunday := time.Date(2024, 5, 19, 8, 0, 0, 0, time.UTC)
	if got, want := GranularityWeek.Truncate(sunday), time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("week Truncate(sunday) = %v, want %v", got, want)
	}
}

func TestJobNextNominalTimeAndDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 15, 13, 47, 0, 0, time.UTC)
	j := Job{ID: "j1", Frequency: GranularityHour}
	want := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	if got := j.NextNominalTime(now); !got.Equal(want) {
		t.Fatalf("NextNominalTime() = %v, want %v", got, want)
	}
	if !j.DueAt(now) {
		t.Fatalf("DueAt() = false, want true for a job that never ran")
	}
	j.ReportNominalTime = want
	if j.DueAt(now) {
		t.Fatalf("DueAt() = true, want false within the same window")
	}
	if !j.DueAt(now.Add(time.Hour)) {
		t.Fatalf("DueAt(+1h) = false, want true")
	}
	j.Status = JobRunning
	if j.DueAt(now.Add(time.Hour)) {
		t.Fatalf("DueAt() = true, want false while running")
	}

	noFreq := Job{Granularity: GranularityDay}
	if got, want := noFreq.NextNominalTime(now), time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextNominalTime() fallback = %v, want %v", got, want)
	}
}

func TestParseEnums(t *testing.T) {
	t.Parallel()

	if c, err := ParseCadence(" day "); err != nil || c != CadenceDay {
		t.Fatalf("ParseCadence() = %q, %v", c, err)
	}
	if _, err := ParseCadence("yearly"); err == nil {
		t.Fatalf("ParseCadence(yearly) err = nil, want error")
	}
	if s, err := ParseStatus("nodata"); err != nil || s != StatusNoData {
		t.Fatalf("ParseStatus() = %q, %v", s, err)
	}
	if g, err := ParseGranularity("HOUR"); err != nil || g != GranularityHour {
		t.Fatalf("ParseGranularity() = %q, %v", g, err)
	}
	if _, err := ParseJobStatus("paused"); err == nil {
		t.Fatalf("ParseJobStatus(paused) err = nil, want error")
	}
}

func TestReportFormatting(t *testing.T) {
	t.Parallel()

	r := Report{Deviation: 12.5}
	if got := r.FormattedAnomalyTimes(); got != "none" {
		t.Fatalf("FormattedAnomalyTimes() = %q, want none", got)
	}
	r.AnomalyTimes = []time.Time{
		time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 15, 14, 0, 0, 0, time.FixedZone("X", 3600)),
	}
	if got, want := r.FormattedAnomalyTimes(), "2024-05-15 13:00 UTC, 2024-05-15 13:00 UTC"; got != want {
		t.Fatalf("FormattedAnomalyTimes() = %q, want %q", got, want)
	}
	if got := r.FormattedDeviation(); got != "12.50%" {
		t.Fatalf("FormattedDeviation() = %q, want 12.50%%", got)
	}

	c := r.Clone()
	c.AnomalyTimes[0] = time.Time{}
	if r.AnomalyTimes[0].IsZero() {
		t.Fatalf("Clone shares AnomalyTimes with source")
	}
}

func TestKindFieldTablesRoundTrip(t *testing.T) {
	t.Parallel()

	r := Report{
		ID:           "r1",
		JobID:        "j1",
		NominalTime:  time.Unix(1715774400, 0).UTC(),
		Frequency:    GranularityHour,
		Status:       StatusWarning,
		AnomalyTimes: []time.Time{time.Unix(1715770800, 0).UTC(), time.Unix(1715774400, 0).UTC()},
		Deviation:    -3.5,
		TargetIDs:    []string{"a", "b"},
	}
	var got Report
	for _, f := range ReportKind.Fields {
		if err := f.Set(&got, f.Get(&r)); err != nil {
			t.Fatalf("field %s: %v", f.Name, err)
		}
	}
	if got.ID != r.ID || !got.NominalTime.Equal(r.NominalTime) || got.Status != r.Status || got.Deviation != r.Deviation {
		t.Fatalf("round trip = %+v, want %+v", got, r)
	}
	if len(got.AnomalyTimes) != 2 || len(got.TargetIDs) != 2 || got.TargetIDs[1] != "b" {
		t.Fatalf("round trip lists = %v %v", got.AnomalyTimes, got.TargetIDs)
	}
	if !got.GeneratedAt.IsZero() {
		t.Fatalf("GeneratedAt = %v, want zero", got.GeneratedAt)
	}

	idx := ReportKind.Indices(&r)
	want := []string{
		"reportJobIdIndex:j1",
		"reportWindowIndex:j1:1715774400:hour",
		"targetReportIndex:a",
		"targetReportIndex:b",
	}
	if len(idx) != len(want) {
		t.Fatalf("Indices() = %v, want %v", idx, want)
	}
	for i := range want {
		if idx[i] != want[i] {
			t.Fatalf("Indices()[%d] = %q, want %q", i, idx[i], want[i])
		}
	}

	tg := NewTarget("t1", "https://x", "n", "", "")
	if got := TargetKind.Indices(&tg); len(got) != 1 || got[0] != "targetTriggerIndex:INSTANT" {
		t.Fatalf("target Indices() = %v", got)
	}
	var badJob Job
	for _, f := range JobKind.Fields {
		if f.Name == "jobStatus" {
			if err := f.Set(&badJob, "bogus"); err == nil {
				t.Fatalf("jobStatus Set(bogus) err = nil, want error")
			}
		}
	}
}
