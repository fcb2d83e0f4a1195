package immunization

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is C7's stored unit (spec.md §3): the serialised FHIR resource
// plus the version/deletion bookkeeping the state machine needs. The
// resource bytes are stored and re-served verbatim rather than round
// tripped through a typed struct, so fields the engine never reads are
// never lost.
type Record struct {
	ID                 uuid.UUID
	Resource           json.RawMessage
	Version            int
	IsDeleted          bool
	IsReinstated       bool
	IdentifierSystem   string
	IdentifierValue    string
	NHSNumber          string
	DiseaseType        string
	OccurrenceDateTime *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (r *Record) GetVersionID() int  { return r.Version }
func (r *Record) SetVersionID(v int) { r.Version = v }
