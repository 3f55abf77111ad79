package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in process Store. Used by tests and local runs without a database.
type Memory struct {
	mu    sync.RWMutex
	items map[string]Item
	now   func() time.Time
}

// NewMemory creates empty Memory store
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]Item),
		now:   time.Now,
	}
}

// Get implements Store
func (m *Memory) Get(_ context.Context, key string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, present := m.items[key]
	if !present || item.Expired(m.now()) {
		return nil, ErrNotFound
	}
	return copyItem(item), nil
}

// Put implements Store
func (m *Memory) Put(_ context.Context, item Item) error {
	if len(item.Key) == 0 {
		return fmt.Errorf("item key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Key] = *copyItem(item)
	return nil
}

// BatchGet implements Store
func (m *Memory) BatchGet(_ context.Context, keys []string) (map[string]Item, error) {
	keys = uniqueKeys(keys)
	if len(keys) > MaxBatchKeys {
		return nil, fmt.Errorf("batch get of %d keys exceeds limit of %d", len(keys), MaxBatchKeys)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	results := make(map[string]Item, len(keys))
	for _, key := range keys {
		item, present := m.items[key]
		if present && !item.Expired(now) {
			results[key] = *copyItem(item)
		}
	}
	return results, nil
}

// BatchWrite implements Store
func (m *Memory) BatchWrite(_ context.Context, items []Item) error {
	for _, item := range items {
		if len(item.Key) == 0 {
			return fmt.Errorf("item key is required")
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.items[item.Key] = *copyItem(item)
	}
	return nil
}

// ScanPrefix implements Store, items are visited in key order
func (m *Memory) ScanPrefix(_ context.Context, prefix string, fn func(Item) error) error {
	m.mu.RLock()
	now := m.now()
	var matched []Item
	for key, item := range m.items {
		if strings.HasPrefix(key, prefix) && !item.Expired(now) {
			matched = append(matched, *copyItem(item))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Key < matched[j].Key
	})
	for _, item := range matched {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExpired implements Store
func (m *Memory) DeleteExpired(_ context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for key, item := range m.items {
		if item.Expired(at) {
			delete(m.items, key)
			removed++
		}
	}
	return removed, nil
}

// Keys returns all keys including expired ones, sorted
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func copyItem(item Item) *Item {
	result := Item{Key: item.Key}
	if item.Value != nil {
		result.Value = append([]byte(nil), item.Value...)
	}
	if item.ExpiresAt != nil {
		expiresAt := *item.ExpiresAt
		result.ExpiresAt = &expiresAt
	}
	return &result
}
