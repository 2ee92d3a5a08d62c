package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is exact but only suitable for a
// single server process, and for tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]time.Time)}
}

// Hit [interface Store] counts and records under a single lock.
func (m *MemoryStore) Hit(_ context.Context, key string, now time.Time, windows []Window) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[key]
	for i, w := range windows {
		since := now.Add(-w.Period)
		count := 0
		for _, at := range events {
			if at.After(since) {
				count++
			}
		}
		if count >= w.Rate {
			return i, nil
		}
	}
	m.events[key] = append(events, now)
	return -1, nil
}

// Prune [interface Store] drops events older than before.
func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for key, events := range m.events {
		kept := events[:0]
		for _, at := range events {
			if at.Before(before) {
				pruned++
				continue
			}
			kept = append(kept, at)
		}
		if len(kept) == 0 {
			delete(m.events, key)
			continue
		}
		m.events[key] = kept
	}
	return pruned, nil
}
