package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "fitcoach:generation-lock:"

// Values are JSON {holder_id, acquired_at}; the lease is the key's PX expiry.
var (
	renewScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then return 0 end
local decoded = cjson.decode(current)
if decoded["holder_id"] ~= ARGV[1] then return 0 end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)
	releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then return 0 end
local decoded = cjson.decode(current)
if decoded["holder_id"] ~= ARGV[1] then return 0 end
return redis.call("DEL", KEYS[1])
`)
)

type redisLockValue struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// RedisStore implements leases with SET NX PX plus compare-and-act scripts.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) Acquire(ctx context.Context, fingerprint, holderID string, lease time.Duration) (Lock, bool, error) {
	now := s.now()
	encoded, err := json.Marshal(redisLockValue{HolderID: holderID, AcquiredAt: now})
	if err != nil {
		return Lock{}, false, fmt.Errorf("encode lock value: %w", err)
	}

	key := s.prefix + fingerprint
	ok, err := s.client.SetNX(ctx, key, encoded, lease).Result()
	if err != nil {
		return Lock{}, false, fmt.Errorf("redis setnx lock: %w", err)
	}
	if ok {
		return Lock{Fingerprint: fingerprint, HolderID: holderID, AcquiredAt: now, LeaseExpiresAt: now.Add(lease)}, true, nil
	}

	current, err := s.read(ctx, fingerprint)
	if err != nil {
		return Lock{}, false, err
	}
	return current, false, nil
}

func (s *RedisStore) Renew(ctx context.Context, fingerprint, holderID string, lease time.Duration) (Lock, error) {
	renewed, err := renewScript.Run(ctx, s.client, []string{s.prefix + fingerprint}, holderID, lease.Milliseconds()).Int()
	if err != nil {
		return Lock{}, fmt.Errorf("redis renew lock: %w", err)
	}
	if renewed == 0 {
		return Lock{}, ErrNotHeld
	}
	current, err := s.read(ctx, fingerprint)
	if err != nil {
		return Lock{}, err
	}
	return current, nil
}

func (s *RedisStore) Release(ctx context.Context, fingerprint, holderID string) error {
	deleted, err := releaseScript.Run(ctx, s.client, []string{s.prefix + fingerprint}, holderID).Int()
	if err != nil {
		return fmt.Errorf("redis release lock: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

func (s *RedisStore) read(ctx context.Context, fingerprint string) (Lock, error) {
	key := s.prefix + fingerprint
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Lock{Fingerprint: fingerprint}, nil
		}
		return Lock{}, fmt.Errorf("redis get lock: %w", err)
	}
	var value redisLockValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return Lock{}, fmt.Errorf("decode lock value: %w", err)
	}
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return Lock{}, fmt.Errorf("redis pttl lock: %w", err)
	}
	return Lock{
		Fingerprint:    fingerprint,
		HolderID:       value.HolderID,
		AcquiredAt:     value.AcquiredAt,
		LeaseExpiresAt: s.now().Add(ttl),
	}, nil
}
