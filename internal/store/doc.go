// Package store persists flat string-field entities with set-based secondary
// indices on top of a small hash/set Backend.
//
// Records live under "{kind}:{id}", index sets under "{indexKind}:{selector}".
// Every mutation is staged on a Pipeline and applied with one awaited Exec, so
// a record and the indices it touches change together.
package store
