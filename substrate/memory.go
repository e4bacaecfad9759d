package substrate

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
// It is the reference substrate for tests and single-process embedding.
// Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
	}
}

// Get returns a record's contents.
func (m *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[name]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external mutation
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// Put writes a record.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]byte, len(data))
	copy(copied, data)
	m.records[name] = copied
	return nil
}

// Delete removes a record.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, name)
	return nil
}

// Transact applies fn under the store's write lock, which serializes it
// against every other mutation on the store (a stronger guarantee than the
// per-record one the contract asks for).
func (m *MemoryStore) Transact(_ context.Context, name string, fn TxFunc) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, found := m.records[name]
	next, outcome, err := fn(prev, found)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case TxWrite:
		copied := make([]byte, len(next))
		copy(copied, next)
		m.records[name] = copied
		return next, nil
	case TxDelete:
		delete(m.records, name)
		return nil, nil
	default:
		return prev, nil
	}
}

// List returns all record names matching the prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.records {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

// Count returns the number of records.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records), nil
}

// Clear removes every record.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string][]byte)
	return nil
}
