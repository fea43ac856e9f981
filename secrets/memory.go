package secrets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps parameters in process memory for dev mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the named parameter or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// Put stores the named parameter. Encryption is a no-op in memory.
func (s *MemoryStore) Put(ctx context.Context, name, value string, encrypted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}
