package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type CoordinatorConfig struct {
	FastTTL    time.Duration
	DurableTTL time.Duration
	Now        func() time.Time
}

// Coordinator reads FAST then DURABLE and writes DURABLE then FAST.
// FAST is best effort: its failures are logged and never surface.
type Coordinator struct {
	fast       Store
	durable    Store
	fastTTL    time.Duration
	durableTTL time.Duration
	now        func() time.Time
	group      singleflight.Group
	logger     zerolog.Logger
}

func NewCoordinator(fast Store, durable Store, config CoordinatorConfig, logger zerolog.Logger) *Coordinator {
	if config.FastTTL <= 0 {
		config.FastTTL = time.Hour
	}
	if config.DurableTTL <= 0 {
		config.DurableTTL = 14 * 24 * time.Hour
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		fast:       fast,
		durable:    durable,
		fastTTL:    config.FastTTL,
		durableTTL: config.DurableTTL,
		now:        config.Now,
		logger:     logger.With().Str("component", "cache").Logger(),
	}
}

type lookupResult struct {
	entry Entry
	hit   bool
}

// Lookup coalesces concurrent calls for the same fingerprint. The shared read
// outlives any one caller's cancellation; each caller stops waiting on its own.
func (c *Coordinator) Lookup(ctx context.Context, fingerprint string) (Entry, bool, error) {
	shared := context.WithoutCancel(ctx)
	results := c.group.DoChan(fingerprint, func() (any, error) {
		entry, hit, err := c.lookup(shared, fingerprint)
		return lookupResult{entry: entry, hit: hit}, err
	})

	var outcome singleflight.Result
	select {
	case <-ctx.Done():
		return Entry{}, false, ctx.Err()
	case outcome = <-results:
	}
	if outcome.Err != nil {
		return Entry{}, false, outcome.Err
	}
	result := outcome.Val.(lookupResult)
	if !result.hit {
		return Entry{}, false, nil
	}
	return cloneEntry(result.entry), true, nil
}

func (c *Coordinator) lookup(ctx context.Context, fingerprint string) (Entry, bool, error) {
	entry, hit, err := c.fast.Get(ctx, fingerprint)
	if err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("fast tier read failed, treating as miss")
	} else if hit {
		return entry, true, nil
	}

	entry, hit, err = c.durable.Get(ctx, fingerprint)
	if err != nil {
		return Entry{}, false, fmt.Errorf("durable cache lookup: %w", err)
	}
	if !hit {
		return Entry{}, false, nil
	}

	ttl := c.fastTTL
	if remaining := entry.Remaining(c.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		backfill := Entry{
			Fingerprint: fingerprint,
			Tier:        TierFast,
			Payload:     entry.Payload,
			CreatedAt:   c.now(),
			TTL:         ttl,
		}
		if err := c.fast.Put(ctx, backfill); err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("fast tier backfill failed")
		}
	}
	return entry, true, nil
}

// Write stores a fresh result, superseding any previous entry.
func (c *Coordinator) Write(ctx context.Context, fingerprint string, payload json.RawMessage) error {
	now := c.now()
	durable := Entry{
		Fingerprint: fingerprint,
		Tier:        TierDurable,
		Payload:     payload,
		CreatedAt:   now,
		TTL:         c.durableTTL,
	}
	if err := c.durable.Put(ctx, durable); err != nil {
		return fmt.Errorf("durable cache write: %w", err)
	}

	fast := durable
	fast.Tier = TierFast
	fast.TTL = c.fastTTL
	if fast.TTL > c.durableTTL {
		fast.TTL = c.durableTTL
	}
	if err := c.fast.Put(ctx, fast); err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("fast tier write failed")
	}
	return nil
}
