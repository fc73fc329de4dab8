package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iago/fitcoach-back/internal/domain"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("job version conflict")
)

// JobsRepository abstracts job persistence. UpdateJob is a compare-and-swap
// on Version: it fails with ErrConflict when the stored version moved on,
// and bumps job.Version on success.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.JobListItem, int, error)
	ListSweepCandidates(ctx context.Context, filter domain.SweepFilter) ([]*domain.Job, error)
	ListPendingByFingerprint(ctx context.Context, fingerprint string, limit int) ([]*domain.Job, error)
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrConflict
	}
	job.Version = 1
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != job.Version {
		return ErrConflict
	}
	job.Version++
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) ListJobs(
	_ context.Context,
	filter domain.JobListFilter,
) ([]domain.JobListItem, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	items := make([]domain.JobListItem, 0)
	for _, job := range r.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		items = append(items, domain.JobListItem{
			JobID:     job.ID,
			Kind:      job.Kind,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].JobID > items[j].JobID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.JobListItem{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	return items[start:end], total, nil
}

func (r *MemoryJobsRepository) ListSweepCandidates(
	_ context.Context,
	filter domain.SweepFilter,
) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusProcessing {
			continue
		}
		stale := job.UpdatedAt.Before(filter.StaleBefore)
		expired := !job.ExpiresAt.IsZero() && !job.ExpiresAt.After(filter.Now)
		if !stale && !expired {
			continue
		}
		out = append(out, cloneJob(job))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryJobsRepository) ListPendingByFingerprint(
	_ context.Context,
	fingerprint string,
	limit int,
) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.Fingerprint != fingerprint || job.Status != domain.JobStatusPending || job.Regenerate {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Params = append([]byte(nil), job.Params...)
	clone.Result = append([]byte(nil), job.Result...)
	if job.Error != nil {
		jobError := *job.Error
		clone.Error = &jobError
	}
	return &clone
}
