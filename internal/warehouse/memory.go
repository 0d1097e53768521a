package warehouse

import (
	"context"
	"sync"
)

// MemoryWriter keeps rows in process. Each non-empty Upsert is recorded as
// one batch.
type MemoryWriter struct {
	mu      sync.Mutex
	rows    map[string]Row
	order   []string
	batches [][]Row
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{rows: make(map[string]Row)}
}

func (m *MemoryWriter) Upsert(_ context.Context, rows []Row) error {
	rows = Dedupe(rows)
	if len(rows) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		if _, ok := m.rows[r.InvoiceID]; !ok {
			m.order = append(m.order, r.InvoiceID)
		}
		m.rows[r.InvoiceID] = r
	}
	m.batches = append(m.batches, append([]Row(nil), rows...))
	return nil
}

// Rows returns the stored rows in first-insert order.
func (m *MemoryWriter) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Row, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rows[id])
	}
	return out
}

// Batches returns the number of statements issued.
func (m *MemoryWriter) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
