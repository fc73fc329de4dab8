package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore only serializes callers inside one process.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]Lock
	now   func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		locks: make(map[string]Lock),
		now:   now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, fingerprint, holderID string, lease time.Duration) (Lock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if current, exists := s.locks[fingerprint]; exists && now.Before(current.LeaseExpiresAt) {
		return current, false, nil
	}
	acquired := Lock{
		Fingerprint:    fingerprint,
		HolderID:       holderID,
		AcquiredAt:     now,
		LeaseExpiresAt: now.Add(lease),
	}
	s.locks[fingerprint] = acquired
	return acquired, true, nil
}

func (s *MemoryStore) Renew(_ context.Context, fingerprint, holderID string, lease time.Duration) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, exists := s.locks[fingerprint]
	if !exists || current.HolderID != holderID || !now.Before(current.LeaseExpiresAt) {
		return Lock{}, ErrNotHeld
	}
	current.LeaseExpiresAt = now.Add(lease)
	s.locks[fingerprint] = current
	return current, nil
}

func (s *MemoryStore) Release(_ context.Context, fingerprint, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.locks[fingerprint]
	if !exists || current.HolderID != holderID {
		return ErrNotHeld
	}
	delete(s.locks, fingerprint)
	return nil
}
