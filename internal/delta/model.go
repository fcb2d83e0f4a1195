// Package delta implements C9: a best-effort, durable-once-persisted flat
// projection of every successful CRUD mutation, for downstream analytics
// consumers (spec.md §4.8).
package delta

import "time"

// Record is one delta-store row: the flat (C4) projection of a resource at
// the moment of a successful C7 mutation.
type Record struct {
	ID            string
	ImmsID        string
	DateTimeStamp time.Time
	Operation     string // CREATE | UPDATE | DELETE
	Source        string // supplier
	Flat          map[string]string
	VaccineType   string
}
