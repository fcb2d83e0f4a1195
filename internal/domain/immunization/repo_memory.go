package immunization

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a mutex-protected Store implementation for tests.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[uuid.UUID]*Record)}
}

func clone(rec *Record) *Record {
	cp := *rec
	return &cp
}

func (s *InMemoryStore) FindByIdentifier(_ context.Context, system, value string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.IdentifierSystem == system && rec.IdentifierValue == value {
			return clone(rec), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Version = 1
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *InMemoryStore) UpdateResource(_ context.Context, id uuid.UUID, resource json.RawMessage) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.IsDeleted {
		return nil, ErrNotFound
	}
	rec.Resource = resource
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return clone(rec), nil
}

func (s *InMemoryStore) Reinstate(_ context.Context, id uuid.UUID, resource json.RawMessage, nhsNumber, diseaseType string, occurrence *time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Resource = resource
	rec.Version++
	rec.IsDeleted = false
	rec.IsReinstated = true
	rec.NHSNumber = nhsNumber
	rec.DiseaseType = diseaseType
	rec.OccurrenceDateTime = occurrence
	rec.UpdatedAt = time.Now().UTC()
	return clone(rec), nil
}

func (s *InMemoryStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.IsDeleted {
		return ErrNotFound
	}
	rec.IsDeleted = true
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, nhsNumber, diseaseType string, dateFrom, dateTo *time.Time) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.IsDeleted || rec.NHSNumber != nhsNumber || rec.DiseaseType != diseaseType {
			continue
		}
		if rec.OccurrenceDateTime == nil {
			continue
		}
		if dateFrom != nil && rec.OccurrenceDateTime.Before(*dateFrom) {
			continue
		}
		if dateTo != nil && rec.OccurrenceDateTime.After(*dateTo) {
			continue
		}
		out = append(out, clone(rec))
	}
	return out, nil
}
