package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBackend keeps all tables in process memory. Used in dev mode and
// tests; records are stored as encoded JSON so decode behaviour matches the
// remote backend.
type MemoryBackend struct {
	mu     sync.RWMutex
	tables map[string]map[string]json.RawMessage
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: make(map[string]map[string]json.RawMessage)}
}

// Get loads the record at key into out.
func (b *MemoryBackend) Get(ctx context.Context, t Table, key string, out any) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, ok := b.tables[t.Name][key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Put stores item under key.
func (b *MemoryBackend) Put(ctx context.Context, t Table, key string, item any) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", t.Name, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tables[t.Name] == nil {
		b.tables[t.Name] = make(map[string]json.RawMessage)
	}
	b.tables[t.Name][key] = raw
	return nil
}

// Delete removes the record at key.
func (b *MemoryBackend) Delete(ctx context.Context, t Table, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables[t.Name], key)
	return nil
}

// Take deletes and returns the record at key under one lock, so concurrent
// takers of the same key cannot both succeed.
func (b *MemoryBackend) Take(ctx context.Context, t Table, key string, out any) (bool, error) {
	b.mu.Lock()
	raw, ok := b.tables[t.Name][key]
	if ok {
		delete(b.tables[t.Name], key)
	}
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// QueryIndex scans the table for the first record whose attribute matches.
// Linear scan is fine at in-memory scale.
func (b *MemoryBackend) QueryIndex(ctx context.Context, t Table, idx Index, value string, out any) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, raw := range b.tables[t.Name] {
		var attrs map[string]any
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return false, err
		}
		if s, ok := attrs[idx.Attr].(string); ok && s == value {
			return true, json.Unmarshal(raw, out)
		}
	}
	return false, nil
}
