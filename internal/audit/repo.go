package audit

import "context"

// Store is the audit table's access contract. Every status transition is a
// conditional update guarded by the entry's current status (spec.md §5,
// "all state transitions are conditional updates guarded by the current
// state") — TransitionStatus reports whether the guard matched so callers
// can detect a lost race rather than silently double-applying a transition.
type Store interface {
	Create(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, messageID string) (*Entry, error)
	GetByFilename(ctx context.Context, filename string) (*Entry, error)

	// TransitionStatus moves messageID from `from` to `to`, returning false
	// (no error) if the entry's current status no longer matches `from`.
	TransitionStatus(ctx context.Context, messageID string, from, to Status) (bool, error)

	// SetRecordCount records the row processor's total row count for the
	// file, used by the ACK assembler to detect batch completion.
	SetRecordCount(ctx context.Context, messageID string, count int) error

	// SetErrorDetails attaches a reason to a NotProcessed/Failed entry.
	SetErrorDetails(ctx context.Context, messageID string, details string) error

	// QueuedForPartition returns entries in state Queued for queueName,
	// oldest first, for C10's per-partition FIFO.
	QueuedForPartition(ctx context.Context, queueName string) ([]*Entry, error)

	// ProcessingForPartition returns the entry in state Processing for
	// queueName, if any — at most one may exist at a time.
	ProcessingForPartition(ctx context.Context, queueName string) (*Entry, error)

	// ActivePartitions lists the distinct queue_name values with an entry
	// currently Queued or Processing, for the watchdog's sweep.
	ActivePartitions(ctx context.Context) ([]string, error)
}

// ErrNotFound is returned by Get/GetByFilename when no entry exists.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "audit: entry not found" }
