package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the DURABLE tier backed by the cache_entries table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	var (
		entry     Entry
		payload   []byte
		expiresAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		UPDATE cache_entries
		SET hit_count = hit_count + 1
		WHERE fingerprint = $1 AND expires_at > $2
		RETURNING payload, created_at, expires_at, hit_count
	`, fingerprint, s.now()).Scan(&payload, &entry.CreatedAt, &expiresAt, &entry.HitCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("query cache entry: %w", err)
	}

	entry.Fingerprint = fingerprint
	entry.Tier = TierDurable
	entry.Payload = payload
	entry.TTL = expiresAt.Sub(entry.CreatedAt)
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (fingerprint, payload, created_at, expires_at, hit_count)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (fingerprint) DO UPDATE
		SET payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			hit_count = 0
	`, entry.Fingerprint, []byte(entry.Payload), entry.CreatedAt, entry.ExpiresAt())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Purge removes expired rows. Expired rows are already invisible to Get.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	command, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return command.RowsAffected(), nil
}
