package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, owner_id, kind, fingerprint, status, params, result, error, attempts,
	hallucinations, regenerate, cache_hit, version, created_at, updated_at, expires_at`

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

// NewPool opens and pings a pgx pool shared by every Postgres-backed store.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	errorPayload, err := encodeJobError(job.Error)
	if err != nil {
		return err
	}
	job.Version = 1
	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			owner_id,
			kind,
			fingerprint,
			status,
			params,
			result,
			error,
			attempts,
			hallucinations,
			regenerate,
			cache_hit,
			version,
			created_at,
			updated_at,
			expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		job.ID,
		job.OwnerID,
		string(job.Kind),
		job.Fingerprint,
		string(job.Status),
		[]byte(job.Params),
		nullableJSON(job.Result),
		errorPayload,
		job.Attempts,
		job.Hallucinations,
		job.Regenerate,
		job.CacheHit,
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
		job.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	errorPayload, err := encodeJobError(job.Error)
	if err != nil {
		return err
	}
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $3,
			result = $4,
			error = $5,
			attempts = $6,
			hallucinations = $7,
			cache_hit = $8,
			updated_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $2
	`,
		job.ID,
		job.Version,
		string(job.Status),
		nullableJSON(job.Result),
		errorPayload,
		job.Attempts,
		job.Hallucinations,
		job.CacheHit,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	job.Version++
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListJobs(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]domain.JobListItem, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	baseQuery, args := buildJobFilters(filter)

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT id, kind, status, created_at
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]domain.JobListItem, 0)
	for rows.Next() {
		var (
			item   domain.JobListItem
			kind   string
			status string
		)
		if err := rows.Scan(&item.JobID, &kind, &status, &item.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan job item: %w", err)
		}
		item.Kind = domain.JobKind(kind)
		item.Status = domain.JobStatus(status)
		items = append(items, item)
	}

	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate job items: %w", rows.Err())
	}

	return items, total, nil
}

func (r *PostgresJobsRepository) ListSweepCandidates(
	ctx context.Context,
	filter domain.SweepFilter,
) ([]*domain.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status IN ('pending', 'processing')
			AND (updated_at < $1 OR expires_at <= $2)
		ORDER BY updated_at ASC
		LIMIT $3
	`, filter.StaleBefore, filter.Now, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}
	return collectJobs(rows)
}

func (r *PostgresJobsRepository) ListPendingByFingerprint(
	ctx context.Context,
	fingerprint string,
	limit int,
) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE fingerprint = $1 AND status = 'pending' AND regenerate = FALSE
		ORDER BY created_at ASC
		LIMIT $2
	`, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs by fingerprint: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job          domain.Job
		kind         string
		status       string
		params       []byte
		result       []byte
		errorPayload []byte
		createdAt    time.Time
		updatedAt    time.Time
		expiresAt    time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&kind,
		&job.Fingerprint,
		&status,
		&params,
		&result,
		&errorPayload,
		&job.Attempts,
		&job.Hallucinations,
		&job.Regenerate,
		&job.CacheHit,
		&job.Version,
		&createdAt,
		&updatedAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}

	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	job.Params = json.RawMessage(params)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if len(errorPayload) > 0 {
		var jobError domain.JobError
		if err := json.Unmarshal(errorPayload, &jobError); err != nil {
			return nil, fmt.Errorf("decode job error: %w", err)
		}
		job.Error = &jobError
	}
	job.CreatedAt = createdAt.UTC()
	job.UpdatedAt = updatedAt.UTC()
	job.ExpiresAt = expiresAt.UTC()
	return &job, nil
}

func buildJobFilters(filter domain.JobListFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM jobs WHERE 1 = 1")

	args := make([]any, 0, 3)
	argIndex := 1

	if ownerID := strings.TrimSpace(filter.OwnerID); ownerID != "" {
		query.WriteString(fmt.Sprintf(" AND owner_id = $%d", argIndex))
		args = append(args, ownerID)
		argIndex++
	}

	if filter.Kind != "" {
		query.WriteString(fmt.Sprintf(" AND kind = $%d", argIndex))
		args = append(args, string(filter.Kind))
		argIndex++
	}

	if filter.Status != "" {
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}

	return query.String(), args
}

func encodeJobError(jobError *domain.JobError) ([]byte, error) {
	if jobError == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(jobError)
	if err != nil {
		return nil, fmt.Errorf("encode job error: %w", err)
	}
	return encoded, nil
}

func nullableJSON(value json.RawMessage) []byte {
	if len(value) == 0 {
		return nil
	}
	return []byte(value)
}
