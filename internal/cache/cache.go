package cache

import (
	"context"
	"encoding/json"
	"time"
)

type Tier string

const (
	TierFast    Tier = "FAST"
	TierDurable Tier = "DURABLE"
)

// Entry is an immutable cached job result keyed by request fingerprint.
// A newer write for the same fingerprint supersedes it.
type Entry struct {
	Fingerprint string
	Tier        Tier
	Payload     json.RawMessage
	CreatedAt   time.Time
	TTL         time.Duration
	HitCount    int64
}

func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Remaining is the time left before expiry, zero once expired.
func (e Entry) Remaining(now time.Time) time.Duration {
	left := e.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Store is one cache tier. Get reports a miss for expired entries.
type Store interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
}

func cloneEntry(entry Entry) Entry {
	clone := entry
	clone.Payload = append([]byte(nil), entry.Payload...)
	return clone
}
