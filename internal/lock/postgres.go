package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps leases in generation_locks. The upsert only overwrites
// a row whose lease already ran out, so two writers can never both win.
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

func (s *PostgresStore) Acquire(ctx context.Context, fingerprint, holderID string, lease time.Duration) (Lock, bool, error) {
	now := s.now()
	acquired := Lock{Fingerprint: fingerprint}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO generation_locks (fingerprint, holder_id, acquired_at, lease_expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE
		SET holder_id = EXCLUDED.holder_id,
			acquired_at = EXCLUDED.acquired_at,
			lease_expires_at = EXCLUDED.lease_expires_at
		WHERE generation_locks.lease_expires_at <= EXCLUDED.acquired_at
		RETURNING holder_id, acquired_at, lease_expires_at
	`, fingerprint, holderID, now, now.Add(lease)).Scan(&acquired.HolderID, &acquired.AcquiredAt, &acquired.LeaseExpiresAt)
	if err == nil {
		return acquired, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Lock{}, false, fmt.Errorf("acquire generation lock: %w", err)
	}

	current := Lock{Fingerprint: fingerprint}
	err = s.pool.QueryRow(ctx, `
		SELECT holder_id, acquired_at, lease_expires_at
		FROM generation_locks
		WHERE fingerprint = $1
	`, fingerprint).Scan(&current.HolderID, &current.AcquiredAt, &current.LeaseExpiresAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Lock{}, false, fmt.Errorf("read generation lock: %w", err)
	}
	return current, false, nil
}

func (s *PostgresStore) Renew(ctx context.Context, fingerprint, holderID string, lease time.Duration) (Lock, error) {
	now := s.now()
	renewed := Lock{Fingerprint: fingerprint, HolderID: holderID}
	err := s.pool.QueryRow(ctx, `
		UPDATE generation_locks
		SET lease_expires_at = $3
		WHERE fingerprint = $1 AND holder_id = $2 AND lease_expires_at > $4
		RETURNING acquired_at, lease_expires_at
	`, fingerprint, holderID, now.Add(lease), now).Scan(&renewed.AcquiredAt, &renewed.LeaseExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lock{}, ErrNotHeld
		}
		return Lock{}, fmt.Errorf("renew generation lock: %w", err)
	}
	return renewed, nil
}

func (s *PostgresStore) Release(ctx context.Context, fingerprint, holderID string) error {
	command, err := s.pool.Exec(ctx, `
		DELETE FROM generation_locks
		WHERE fingerprint = $1 AND holder_id = $2
	`, fingerprint, holderID)
	if err != nil {
		return fmt.Errorf("release generation lock: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotHeld
	}
	return nil
}
