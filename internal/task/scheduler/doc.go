// Package scheduler turns cron specs into task submissions.
//
// It only computes trigger times; execution happens in the task engine.
// The dispatch cycle, job polling and report retention are all registered here.
package scheduler
