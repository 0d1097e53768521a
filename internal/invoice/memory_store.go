package invoice

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for demo and test use.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*Invoice
}

// NewMemoryStore creates an empty in-memory invoice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*Invoice),
	}
}

func (s *MemoryStore) Save(ctx context.Context, inv *Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Invoice, error) {
	s.mu.RLock()
	result := make([]*Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		result = append(result, inv.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].ExtractedAt.Equal(result[j].ExtractedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ExtractedAt.Before(result[j].ExtractedAt)
	})
	return result, nil
}
