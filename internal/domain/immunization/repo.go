package immunization

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for a missing or logically deleted record.
var ErrNotFound = errors.New("immunization: record not found")

// Store is C7's storage interface (spec.md §3, §4.5).
type Store interface {
	// FindByIdentifier returns the record (live or deleted) carrying this
	// identifier, or ErrNotFound if none exists. create() uses this to
	// decide between a fresh insert and a reinstate.
	FindByIdentifier(ctx context.Context, system, value string) (*Record, error)
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	// UpdateResource overwrites Resource and increments Version. Returns
	// ErrNotFound if the record is missing or logically deleted.
	UpdateResource(ctx context.Context, id uuid.UUID, resource json.RawMessage) (*Record, error)
	// Reinstate clears IsDeleted, sets IsReinstated, increments Version, and
	// refreshes the patient-side index fields from the new resource.
	Reinstate(ctx context.Context, id uuid.UUID, resource json.RawMessage, nhsNumber, diseaseType string, occurrence *time.Time) (*Record, error)
	// SoftDelete flips IsDeleted. Returns ErrNotFound if the record is
	// missing or already deleted (idempotent-bounded per spec.md §4.5).
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, nhsNumber, diseaseType string, dateFrom, dateTo *time.Time) ([]*Record, error)
}
