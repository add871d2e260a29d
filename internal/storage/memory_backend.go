package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ogolikhin/procgraph/internal/process"
)

// MemoryBackend is an in-memory implementation of Backend.
type MemoryBackend struct {
	mu       sync.RWMutex
	records  map[int]*Record
	readOnly bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[int]*Record)}
}

// Initialize implements Backend. The location is ignored.
func (m *MemoryBackend) Initialize(_ context.Context, _ string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[int]*Record)
	}
	m.readOnly = readOnly
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(_ context.Context, p *process.Model) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records == nil {
		return "", ErrClosed
	}
	if m.readOnly {
		return "", ErrReadOnly
	}

	r := &Record{
		Model:     p.Clone(),
		Revision:  uuid.NewString(),
		UpdatedAt: time.Now().UTC(),
	}
	m.records[p.ID] = r
	return r.Revision, nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, id int) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrProcessNotFound
	}
	c := *r
	c.Model = r.Model.Clone()
	return &c, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readOnly {
		return ErrReadOnly
	}
	if _, ok := m.records[id]; !ok {
		return ErrProcessNotFound
	}
	delete(m.records, id)
	return nil
}

// List implements Backend.
func (m *MemoryBackend) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Summary, 0, len(m.records))
	for _, r := range m.records {
		result = append(result, r.summary())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Search implements Backend.
func (m *MemoryBackend) Search(_ context.Context, query string, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Model.ID < records[j].Model.ID })
	return searchRecords(records, query, limit), nil
}
