package graph

import (
	"context"
	"sync"
)

// MemoryStore is an in-process adjacency list from vendor to invoice nodes.
type MemoryStore struct {
	mu      sync.RWMutex
	vendors map[string][]Submission
}

// NewMemoryStore creates an empty graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vendors: make(map[string][]Submission)}
}

func (m *MemoryStore) RecordSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors[s.Vendor] = append(m.vendors[s.Vendor], s)
	return nil
}

func (m *MemoryStore) CountByVendor(_ context.Context, vendor string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vendors[vendor]), nil
}

func (m *MemoryStore) CountSameDay(_ context.Context, vendor, date, excludeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.vendors[vendor] {
		if s.Date == date && s.InvoiceID != excludeID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) VerifyConnectivity(context.Context) error { return nil }

func (m *MemoryStore) Close(context.Context) error { return nil }
