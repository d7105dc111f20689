package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nexlead/leadflow/pkg/schema"
)

// MemoryStore is an in-memory LeadStore for tests and ephemeral runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any // collection -> id -> lead
	order       map[string][]string                  // collection -> insertion order
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		order:       make(map[string][]string),
	}
}

func (s *MemoryStore) CreateLead(_ context.Context, lead map[string]any, collection string) (string, error) {
	collection = collectionOrDefault(collection)

	id, _ := lead["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]map[string]any)
	}
	doc := copyLead(lead)
	doc["id"] = id
	s.collections[collection][id] = doc
	s.order[collection] = append(s.order[collection], id)
	return id, nil
}

func (s *MemoryStore) GetLead(_ context.Context, id string, collection string) (map[string]any, error) {
	collection = collectionOrDefault(collection)

	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return copyLead(lead), nil
}

func (s *MemoryStore) UpdateLead(_ context.Context, id string, updates map[string]any, collection string) (bool, error) {
	collection = collectionOrDefault(collection)

	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.collections[collection][id]
	if !ok {
		return false, nil
	}
	for k, v := range updates {
		lead[k] = v
	}
	lead["id"] = id
	return true, nil
}

func (s *MemoryStore) ListLeads(_ context.Context, collection string, limit int) ([]map[string]any, error) {
	collection = collectionOrDefault(collection)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var leads []map[string]any
	for _, id := range s.order[collection] {
		if lead, ok := s.collections[collection][id]; ok {
			leads = append(leads, copyLead(lead))
			if limit > 0 && len(leads) >= limit {
				break
			}
		}
	}
	return leads, nil
}

func (s *MemoryStore) DeleteLead(_ context.Context, id string, collection string) error {
	collection = collectionOrDefault(collection)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "lead %q not found", id)
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyLead(lead map[string]any) map[string]any {
	cp := make(map[string]any, len(lead))
	for k, v := range lead {
		cp[k] = v
	}
	return cp
}

var _ LeadStore = (*MemoryStore)(nil)
