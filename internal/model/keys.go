package model

import (
	"strconv"

	"anomalyd/internal/store"
)

// Index key layout. Records are "{kind}:{id}"; sets are "{indexKind}:{selector}".
const (
	TargetKindName = "target"
	JobKindName    = "job"
	ReportKindName = "report"

	TargetIDIndex = "targetIdIndex:Targets"
	JobIDIndex    = "jobIdIndex:Jobs"
	ReportIDIndex = "reportIdIndex:Reports"
)

func TargetCadenceIndex(c Cadence) string { return store.Key("targetTriggerIndex", string(c)) }

// TargetJobIndex lists the jobs a target is associated with.
func TargetJobIndex(targetID string) string { return store.Key("targetJobIndex", targetID) }

// JobTargetIndex lists the targets a job notifies.
func JobTargetIndex(jobID string) string { return store.Key("jobTargetIndex", jobID) }

// TargetReportIndex lists reports awaiting delivery to a target.
func TargetReportIndex(targetID string) string { return store.Key("targetReportIndex", targetID) }

func JobStatusIndex(s JobStatus) string { return store.Key("jobStatusIndex", string(s)) }

func ReportJobIndex(jobID string) string { return store.Key("reportJobIdIndex", jobID) }

func ReportWindowIndex(w Window) string {
	return store.Key("reportWindowIndex", w.JobID+":"+strconv.FormatInt(w.NominalTime.Unix(), 10)+":"+string(w.Frequency))
}
