package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct {
	gets atomic.Int64
	puts atomic.Int64
}

func (s *failingStore) Get(context.Context, string) (Entry, bool, error) {
	s.gets.Add(1)
	return Entry{}, false, errors.New("connection refused")
}

func (s *failingStore) Put(context.Context, Entry) error {
	s.puts.Add(1)
	return errors.New("connection refused")
}

type countingStore struct {
	Store
	gets atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	s.gets.Add(1)
	time.Sleep(20 * time.Millisecond)
	return s.Store.Get(ctx, fingerprint)
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore(MemoryConfig{Now: clk.Now})
	ctx := context.Background()

	if err := store.Put(ctx, Entry{Fingerprint: "fp", Payload: json.RawMessage(`{"a":1}`), CreatedAt: clk.Now(), TTL: time.Minute}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entry, hit, err := store.Get(ctx, "fp")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if string(entry.Payload) != `{"a":1}` || entry.HitCount != 1 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	clk.Advance(time.Minute)
	if _, hit, _ := store.Get(ctx, "fp"); hit {
		t.Fatalf("expected miss after ttl")
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired entry removed")
	}
}

func TestMemoryStoreEvictsOldestWhenFull(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore(MemoryConfig{MaxEntries: 2, Now: clk.Now})
	ctx := context.Background()

	for _, fp := range []string{"a", "b", "c"} {
		_ = store.Put(ctx, Entry{Fingerprint: fp, CreatedAt: clk.Now(), TTL: time.Hour})
		clk.Advance(time.Second)
	}
	if _, hit, _ := store.Get(ctx, "a"); hit {
		t.Fatalf("expected oldest entry evicted")
	}
	if _, hit, _ := store.Get(ctx, "c"); !hit {
		t.Fatalf("expected newest entry kept")
	}
}

func TestCoordinatorRoundTripAndExpiry(t *testing.T) {
	clk := newClock()
	fast := NewMemoryStore(MemoryConfig{Tier: TierFast, Now: clk.Now})
	durable := NewMemoryStore(MemoryConfig{Tier: TierDurable, Now: clk.Now})
	coordinator := NewCoordinator(fast, durable, CoordinatorConfig{
		FastTTL:    time.Hour,
		DurableTTL: 24 * time.Hour,
		Now:        clk.Now,
	}, zerolog.Nop())
	ctx := context.Background()

	if err := coordinator.Write(ctx, "fp", json.RawMessage(`{"plan":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	entry, hit, err := coordinator.Lookup(ctx, "fp")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if entry.Tier != TierFast || string(entry.Payload) != `{"plan":1}` {
		t.Fatalf("expected fast hit with same payload, got %+v", entry)
	}

	clk.Advance(2 * time.Hour)
	entry, hit, err = coordinator.Lookup(ctx, "fp")
	if err != nil || !hit || entry.Tier != TierDurable {
		t.Fatalf("expected durable hit after fast expiry, got %+v hit=%v err=%v", entry, hit, err)
	}

	clk.Advance(23 * time.Hour)
	if _, hit, err := coordinator.Lookup(ctx, "fp"); err != nil || hit {
		t.Fatalf("expected miss after durable ttl, got hit=%v err=%v", hit, err)
	}
}

func TestCoordinatorBackfillUsesRemainingDurableTTL(t *testing.T) {
	clk := newClock()
	fast := NewMemoryStore(MemoryConfig{Tier: TierFast, Now: clk.Now})
	durable := NewMemoryStore(MemoryConfig{Tier: TierDurable, Now: clk.Now})
	coordinator := NewCoordinator(fast, durable, CoordinatorConfig{
		FastTTL:    time.Hour,
		DurableTTL: 24 * time.Hour,
		Now:        clk.Now,
	}, zerolog.Nop())
	ctx := context.Background()

	_ = durable.Put(ctx, Entry{Fingerprint: "fp", Payload: json.RawMessage(`{}`), CreatedAt: clk.Now(), TTL: 24 * time.Hour})
	clk.Advance(23*time.Hour + 50*time.Minute)

	if _, hit, err := coordinator.Lookup(ctx, "fp"); err != nil || !hit {
		t.Fatalf("expected durable hit, got hit=%v err=%v", hit, err)
	}
	backfilled, hit, _ := fast.Get(ctx, "fp")
	if !hit {
		t.Fatalf("expected fast tier backfilled")
	}
	if backfilled.TTL != 10*time.Minute {
		t.Fatalf("expected backfill ttl capped to remaining 10m, got %s", backfilled.TTL)
	}
}

func TestCoordinatorTreatsFastFailuresAsMiss(t *testing.T) {
	clk := newClock()
	fast := &failingStore{}
	durable := NewMemoryStore(MemoryConfig{Tier: TierDurable, Now: clk.Now})
	coordinator := NewCoordinator(fast, durable, CoordinatorConfig{Now: clk.Now}, zerolog.Nop())
	ctx := context.Background()

	if err := coordinator.Write(ctx, "fp", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("fast failure must not fail the write: %v", err)
	}
	entry, hit, err := coordinator.Lookup(ctx, "fp")
	if err != nil || !hit || entry.Tier != TierDurable {
		t.Fatalf("expected durable hit, got %+v hit=%v err=%v", entry, hit, err)
	}
	if fast.gets.Load() != 1 || fast.puts.Load() != 2 {
		t.Fatalf("expected fast tier attempted, gets=%d puts=%d", fast.gets.Load(), fast.puts.Load())
	}
}

func TestCoordinatorWriteFailsWhenDurableFails(t *testing.T) {
	clk := newClock()
	fast := NewMemoryStore(MemoryConfig{Now: clk.Now})
	coordinator := NewCoordinator(fast, &failingStore{}, CoordinatorConfig{Now: clk.Now}, zerolog.Nop())

	if err := coordinator.Write(context.Background(), "fp", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected durable failure to surface")
	}
	if fast.Len() != 0 {
		t.Fatalf("fast tier must not be written before durable succeeds")
	}
}

func TestCoordinatorCoalescesConcurrentLookups(t *testing.T) {
	clk := newClock()
	fast := &countingStore{Store: NewMemoryStore(MemoryConfig{Now: clk.Now})}
	durable := NewMemoryStore(MemoryConfig{Tier: TierDurable, Now: clk.Now})
	coordinator := NewCoordinator(fast, durable, CoordinatorConfig{Now: clk.Now}, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = coordinator.Lookup(ctx, "fp")
		}()
	}
	wg.Wait()

	if got := fast.gets.Load(); got >= 16 {
		t.Fatalf("expected concurrent lookups to share reads, got %d", got)
	}
}

// gatedStore blocks reads until released or until the reader's ctx ends.
type gatedStore struct {
	Store
	gets    atomic.Int64
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	if s.gets.Add(1) == 1 {
		close(s.entered)
	}
	select {
	case <-ctx.Done():
		return Entry{}, false, ctx.Err()
	case <-s.release:
	}
	return s.Store.Get(ctx, fingerprint)
}

func TestCoordinatorLookupSurvivesCancelledPeer(t *testing.T) {
	clk := newClock()
	fast := &gatedStore{
		Store:   NewMemoryStore(MemoryConfig{Now: clk.Now}),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	durable := NewMemoryStore(MemoryConfig{Tier: TierDurable, Now: clk.Now})
	coordinator := NewCoordinator(fast, durable, CoordinatorConfig{Now: clk.Now}, zerolog.Nop())
	if err := fast.Store.Put(context.Background(), Entry{Fingerprint: "fp", Payload: json.RawMessage(`{"title":"Legs"}`), CreatedAt: clk.Now(), TTL: time.Hour}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, _, err := coordinator.Lookup(firstCtx, "fp")
		firstDone <- err
	}()
	<-fast.entered

	cancelFirst()
	select {
	case err := <-firstDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled caller to see context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled caller kept waiting")
	}

	type lookup struct {
		hit bool
		err error
	}
	secondDone := make(chan lookup, 1)
	go func() {
		_, hit, err := coordinator.Lookup(context.Background(), "fp")
		secondDone <- lookup{hit: hit, err: err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(fast.release)

	select {
	case got := <-secondDone:
		if got.err != nil || !got.hit {
			t.Fatalf("expected peer lookup to hit, got hit=%v err=%v", got.hit, got.err)
		}
	case <-time.After(time.Second):
		t.Fatalf("peer lookup never returned")
	}
}
