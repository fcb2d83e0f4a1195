// Package audit implements C1, the per-file audit state machine that backs
// the batch pipeline's completion-detection and partition single-flight
// guarantees.
package audit

import "time"

// Status is one of the audit entry's lifecycle states (spec.md §2, §3):
// Queued -> Processing -> {Processed, NotProcessed, Failed}.
type Status string

const (
	StatusQueued       Status = "Queued"
	StatusProcessing   Status = "Processing"
	StatusProcessed    Status = "Processed"
	StatusNotProcessed Status = "NotProcessed"
	StatusFailed       Status = "Failed"
)

// Entry is one row of the audit store, keyed by message_id. RecordCount is
// populated once the row processor has counted the file; ErrorDetails is
// populated on NotProcessed/Failed.
type Entry struct {
	MessageID    string
	Filename     string
	QueueName    string // supplier_vaccineType, the partition key
	Status       Status
	Timestamp    time.Time
	ExpiresAt    time.Time
	RecordCount  *int
	ErrorDetails *string
}

// NotProcessedReason values populate ErrorDetails when C3 rejects a file
// before any row processing begins (§7 InvalidFileKey row).
const (
	ReasonUnauthorised = "Unauthorised"
	ReasonEmpty        = "Empty file"
)
