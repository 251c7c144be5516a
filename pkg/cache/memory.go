package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCacheSize bounds the fallback tier when no explicit size
// is configured. Entries beyond the bound evict least-recently-used.
const DefaultMemoryCacheSize = 10240

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the in-process fallback tier. TTLs are enforced lazily
// on read and by Sweep; total size is bounded by an LRU so a long Redis
// outage cannot grow the map without limit.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryStore creates a bounded in-process store. size <= 0 selects
// DefaultMemoryCacheSize.
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = DefaultMemoryCacheSize
	}
	// lru.New only fails for a non-positive size, which is excluded above.
	entries, _ := lru.New[string, memoryEntry](size)
	return &MemoryStore{
		entries: entries,
		now:     time.Now,
	}
}

// Get returns the value for key, dropping it if its TTL has elapsed.
func (s *MemoryStore) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storageKey(ns, key)
	entry, ok := s.entries.Get(k)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.entries.Remove(k)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a value; ttl <= 0 means no expiry.
func (s *MemoryStore) Set(_ context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries.Add(storageKey(ns, key), entry)
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Remove(storageKey(ns, key))
	return nil
}

// Sweep drops expired entries eagerly. Expiry is otherwise lazy, so this
// only bounds how long dead entries occupy LRU slots; it is wired to the
// background cron schedule.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, k := range s.entries.Keys() {
		if entry, ok := s.entries.Peek(k); ok && entry.expired(now) {
			s.entries.Remove(k)
			removed++
		}
	}
	return removed
}

// Len reports the number of resident entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Close is a no-op for the memory tier.
func (s *MemoryStore) Close() error {
	return nil
}
