package delta

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a thread-safe Store for tests.
type InMemoryStore struct {
	mu      sync.Mutex
	Records []*Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.Records = append(s.Records, rec)
	return nil
}
