// Package model holds the persisted entities (targets, jobs, reports), their
// enums, field tables and key layout.
package model
