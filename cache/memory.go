package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is a process-local KVStore with per-key expiration.
// Expired keys are dropped lazily on access and by Purge.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (s *MemoryStore) Put(key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if item.expired(s.now()) {
		s.mu.Lock()
		if current, ok := s.items[key]; ok && current.expired(s.now()) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return append([]byte(nil), item.value...), true
}

func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return false
	}
	delete(s.items, key)
	return !item.expired(s.now())
}

// Keys returns the sorted live keys starting with prefix.
func (s *MemoryStore) Keys(prefix string) []string {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, item := range s.items {
		if strings.HasPrefix(key, prefix) && !item.expired(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Purge drops expired keys and returns how many were dropped.
func (s *MemoryStore) Purge() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, item := range s.items {
		if item.expired(now) {
			delete(s.items, key)
			purged++
		}
	}
	return purged
}

// Len returns the number of stored keys, including expired ones not yet purged.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
