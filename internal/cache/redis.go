package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "fitcoach:plan-cache:"

type redisRecord struct {
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	TTLMillis int64           `json:"ttl_ms"`
}

// RedisStore is the FAST tier. Expiry is enforced by Redis itself.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis get cache entry: %w", err)
	}

	var record redisRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return Entry{
		Fingerprint: fingerprint,
		Tier:        TierFast,
		Payload:     record.Payload,
		CreatedAt:   record.CreatedAt,
		TTL:         time.Duration(record.TTLMillis) * time.Millisecond,
	}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	if entry.TTL <= 0 {
		return fmt.Errorf("redis put cache entry: non-positive ttl")
	}
	encoded, err := json.Marshal(redisRecord{
		Payload:   entry.Payload,
		CreatedAt: entry.CreatedAt,
		TTLMillis: entry.TTL.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+entry.Fingerprint, encoded, entry.TTL).Err(); err != nil {
		return fmt.Errorf("redis set cache entry: %w", err)
	}
	return nil
}
