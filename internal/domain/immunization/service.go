package immunization

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehr/internal/convert"
	"github.com/ehr/ehr/internal/platform/refcache"
)

// Service implements C7's CRUD contracts (spec.md §4.5) over a Store.
type Service struct {
	store Store
	cache refcache.Cache
}

func NewService(store Store, cache refcache.Cache) *Service {
	return &Service{store: store, cache: cache}
}

// resourceIndex derives the fields C7 indexes a resource by: its
// identifier, the patient's NHS number, the disease type (derived exactly
// as C5 derives it, via the reference cache), and the occurrence instant.
func (s *Service) resourceIndex(ctx context.Context, resource []byte) (system, value, nhsNumber, diseaseType string, occurrence *time.Time, err error) {
	imms, convErr := convert.FromJSON(resource)
	if convErr != nil {
		return "", "", "", "", nil, badRequest("malformed Immunization resource: %s", convErr.Message)
	}
	if len(imms.Identifier) == 0 {
		return "", "", "", "", nil, badRequest("identifier is required")
	}
	system, value = imms.Identifier[0].System, imms.Identifier[0].Value

	if patient := convert.ExtractPatient(imms); patient != nil {
		for _, id := range patient.Identifier {
			if id.System == convert.Urls.NHSNumber {
				nhsNumber = id.Value
				break
			}
		}
	}

	var diseaseCodes []string
	for _, pa := range imms.ProtocolApplied {
		for _, td := range pa.TargetDisease {
			for _, coding := range td.Coding {
				diseaseCodes = append(diseaseCodes, coding.Code)
			}
		}
	}
	if len(diseaseCodes) > 0 {
		diseaseType, err = s.cache.VaccineTypeForDiseaseCodes(ctx, diseaseCodes)
		if err != nil {
			return "", "", "", "", nil, err
		}
	}

	if imms.OccurrenceDateTime != "" {
		t := convert.OccurrenceInstant(imms.OccurrenceDateTime)
		occurrence = &t
	}
	return system, value, nhsNumber, diseaseType, occurrence, nil
}

// Create implements create(resource) (spec.md §4.5): a fresh identifier
// inserts a new live record at version 1; a collision with a deleted
// record reinstates it; a collision with a live record is a 422.
func (s *Service) Create(ctx context.Context, resource []byte) (*Record, error) {
	system, value, nhsNumber, diseaseType, occurrence, err := s.resourceIndex(ctx, resource)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindByIdentifier(ctx, system, value)
	switch {
	case errors.Is(err, ErrNotFound):
		rec := &Record{
			Resource:           json.RawMessage(resource),
			IdentifierSystem:   system,
			IdentifierValue:    value,
			NHSNumber:          nhsNumber,
			DiseaseType:        diseaseType,
			OccurrenceDateTime: occurrence,
		}
		if err := s.store.Insert(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	case err != nil:
		return nil, err
	case existing.IsDeleted:
		return s.store.Reinstate(ctx, existing.ID, resource, nhsNumber, diseaseType, occurrence)
	default:
		return nil, &ErrIdentifierDuplicate{System: system, Value: value}
	}
}

// FindByIdentifier resolves a resource's stored id from its FHIR identifier.
// The synchronous HTTP surface addresses records by id throughout, but a
// batch row only ever carries the resource's identifier (UNIQUE_ID/
// UNIQUE_ID_URI) — C10 uses this to turn a row's UPDATE/DELETE action into
// the id-addressed Update/Delete calls below.
func (s *Service) FindByIdentifier(ctx context.Context, system, value string) (*Record, error) {
	rec, err := s.store.FindByIdentifier(ctx, system, value)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Read implements read(id): ErrNotFound covers both "missing" and
// "logically deleted" per spec.md §4.5.
func (s *Service) Read(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Update implements update(id, resource): the body's identifier must match
// the stored record's, and the target must currently be live.
func (s *Service) Update(ctx context.Context, id uuid.UUID, resource []byte) (*Record, error) {
	system, value, _, _, _, err := s.resourceIndex(ctx, resource)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsDeleted {
		return nil, ErrNotFound
	}
	if system != existing.IdentifierSystem || value != existing.IdentifierValue {
		return nil, &ErrIdentifierMismatch{
			SystemMismatch: system != existing.IdentifierSystem,
			ValueMismatch:  value != existing.IdentifierValue,
		}
	}

	return s.store.UpdateResource(ctx, id, resource)
}

// Delete implements delete(id): idempotent-bounded, second delete 404s.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.SoftDelete(ctx, id)
}

// Search implements search(nhs_number, disease_type, date_from?, date_to?):
// live records in the occurrence window, each passed through the search
// filter before being wrapped in entries by the caller.
func (s *Service) Search(ctx context.Context, nhsNumber, diseaseType string, dateFrom, dateTo *time.Time) ([]*Record, error) {
	return s.store.Search(ctx, nhsNumber, diseaseType, dateFrom, dateTo)
}

// FilteredResource decodes a record's resource and applies the search-view
// filter (spec.md §4.5), returning the map ready to embed in a Bundle entry.
func FilteredResource(rec *Record, patientFullURL string) (map[string]interface{}, error) {
	var resource map[string]interface{}
	if err := json.Unmarshal(rec.Resource, &resource); err != nil {
		return nil, err
	}
	return filterForSearch(resource, patientFullURL), nil
}
