package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. It does not survive a restart and
// is meant for tests and throwaway sessions.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Key]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key]string)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...Key) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	for k := range m.values {
		if k.SessionID == sessionID {
			delete(m.values, k)
		}
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *MemoryStore) Close() error { return nil }
