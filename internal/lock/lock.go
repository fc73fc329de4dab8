package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotHeld = errors.New("generation lock not held")

// Lock is a lease on one fingerprint. A lease that has expired may be taken
// over by any caller.
type Lock struct {
	Fingerprint    string
	HolderID       string
	AcquiredAt     time.Time
	LeaseExpiresAt time.Time
}

// Store guarantees at most one live holder per fingerprint. Acquire is not
// reentrant: a holder calling it again on a live lease gets false.
type Store interface {
	Acquire(ctx context.Context, fingerprint, holderID string, lease time.Duration) (Lock, bool, error)
	Renew(ctx context.Context, fingerprint, holderID string, lease time.Duration) (Lock, error)
	Release(ctx context.Context, fingerprint, holderID string) error
}
