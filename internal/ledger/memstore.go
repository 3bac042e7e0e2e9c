package ledger

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] for tests and offline runs.
type MemStore struct {
	mu       sync.Mutex
	entries  []Entry
	dialects []string

	// Err, when set, is returned by every method.
	Err error
}

// NewMemStore returns a store pre-registered with seed dialects.
func NewMemStore(seed ...string) *MemStore {
	m := &MemStore{}
	for _, d := range seed {
		m.register(d)
	}
	return m
}

func (m *MemStore) register(d string) {
	if d != "" && !slices.Contains(m.dialects, d) {
		m.dialects = append(m.dialects, d)
	}
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.entries = append(m.entries, e)
	m.register(e.Dialect)
	return nil
}

// Dialects implements [Store].
func (m *MemStore) Dialects(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return slices.Clone(m.dialects), nil
}

// Count implements [Store].
func (m *MemStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), m.Err
}

// Ping implements [Store].
func (m *MemStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// Entries returns a copy of the stored entries.
func (m *MemStore) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}
