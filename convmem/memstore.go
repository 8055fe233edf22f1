package convmem

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 10000

// MemStore is the in-process fallback store used when no Redis is
// configured, and the store of choice in tests. Keys expire lazily on
// access; maxKeys is an advisory bound on tracked users, pruned
// oldest-expiry first.
type MemStore struct {
	mu      sync.Mutex
	items   map[string]memItem
	maxKeys int
	nowFn   func() time.Time
}

type memItem struct {
	value     []byte
	expiresAt time.Time
}

func NewMemStore(maxKeys int) *MemStore {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &MemStore{
		items:   make(map[string]memItem),
		maxKeys: maxKeys,
		nowFn:   time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (s *MemStore) SetNow(nowFn func() time.Time) {
	if s == nil || nowFn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = nowFn
	s.mu.Unlock()
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !s.nowFn().Before(item.expiresAt) {
		delete(s.items, key)
		return nil, false, nil
	}
	cp := make([]byte, len(item.value))
	copy(cp, item.value)
	return cp, true, nil
}

func (s *MemStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	s.items[key] = memItem{value: cp, expiresAt: s.expiryLocked(ttl)}
	s.pruneLocked()
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if item, ok := s.items[key]; ok {
		item.expiresAt = s.expiryLocked(ttl)
		s.items[key] = item
	}
	s.mu.Unlock()
	return nil
}

func (s *MemStore) expiryLocked(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.nowFn().Add(ttl)
}

func (s *MemStore) pruneLocked() {
	if len(s.items) <= s.maxKeys {
		return
	}
	for len(s.items) > s.maxKeys {
		oldestKey := ""
		oldestAt := time.Time{}
		for key, item := range s.items {
			if oldestKey == "" || item.expiresAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = item.expiresAt
			}
		}
		delete(s.items, oldestKey)
	}
}
