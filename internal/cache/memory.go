package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryConfig struct {
	Tier       Tier
	MaxEntries int
	Now        func() time.Time
}

// MemoryStore is a bounded in-process tier. When full it evicts the oldest
// entry by creation time.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]Entry
	tier       Tier
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(config MemoryConfig) *MemoryStore {
	if config.Tier == "" {
		config.Tier = TierFast
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		entries:    make(map[string]Entry),
		tier:       config.Tier,
		maxEntries: config.MaxEntries,
		now:        config.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[fingerprint]
	if !exists {
		return Entry{}, false, nil
	}
	if !s.now().Before(entry.ExpiresAt()) {
		delete(s.entries, fingerprint)
		return Entry{}, false, nil
	}
	entry.HitCount++
	s.entries[fingerprint] = entry
	return cloneEntry(entry), true, nil
}

func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	entry = cloneEntry(entry)
	entry.Tier = s.tier
	entry.HitCount = 0
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Fingerprint]; !exists && len(s.entries) >= s.maxEntries {
		s.evictOldest()
	}
	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) evictOldest() {
	if len(s.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value Entry
	}
	pairs := make([]pair, 0, len(s.entries))
	for key, value := range s.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(s.entries, pairs[0].key)
}
