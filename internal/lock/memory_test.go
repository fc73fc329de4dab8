package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryStoreIsExclusiveAndNotReentrant(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if _, ok, err := store.Acquire(ctx, "fp", "holder-a", time.Minute); err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	current, ok, err := store.Acquire(ctx, "fp", "holder-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second holder to be refused, ok=%v err=%v", ok, err)
	}
	if current.HolderID != "holder-a" {
		t.Fatalf("expected current holder returned, got %+v", current)
	}
	if _, ok, _ := store.Acquire(ctx, "fp", "holder-a", time.Minute); ok {
		t.Fatalf("expected reacquire by the same holder to be refused")
	}
	if _, ok, _ := store.Acquire(ctx, "other", "holder-b", time.Minute); !ok {
		t.Fatalf("expected independent fingerprint to be free")
	}
}

func TestMemoryStoreExpiredLeaseCanBeTakenOver(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	_, _, _ = store.Acquire(ctx, "fp", "crashed", time.Minute)
	now = now.Add(time.Minute)

	acquired, ok, err := store.Acquire(ctx, "fp", "rescuer", time.Minute)
	if err != nil || !ok || acquired.HolderID != "rescuer" {
		t.Fatalf("expected takeover after lease expiry, got %+v ok=%v err=%v", acquired, ok, err)
	}
	if _, err := store.Renew(ctx, "fp", "crashed", time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected stale holder renew to fail, got %v", err)
	}
	if err := store.Release(ctx, "fp", "crashed"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected stale holder release to fail, got %v", err)
	}
	if err := store.Release(ctx, "fp", "rescuer"); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestMemoryStoreRenewExtendsLease(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	_, _, _ = store.Acquire(ctx, "fp", "holder", time.Minute)
	now = now.Add(50 * time.Second)
	renewed, err := store.Renew(ctx, "fp", "holder", time.Minute)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.LeaseExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected lease expiry %s", renewed.LeaseExpiresAt)
	}
	now = now.Add(30 * time.Second)
	if _, ok, _ := store.Acquire(ctx, "fp", "other", time.Minute); ok {
		t.Fatalf("renewed lease must still be held")
	}
}

func TestMemoryStoreSingleWinnerUnderContention(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, ok, _ := store.Acquire(ctx, "fp", string(rune('a'+id)), time.Minute); ok {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}
