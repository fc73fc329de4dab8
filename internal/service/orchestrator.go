package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fitcoach-back/internal/cache"
	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/iago/fitcoach-back/internal/fingerprint"
	"github.com/iago/fitcoach-back/internal/lock"
	"github.com/iago/fitcoach-back/internal/queue"
	"github.com/iago/fitcoach-back/internal/repository"
	"github.com/rs/zerolog"
)

var ErrInvalidRequest = errors.New("invalid request")

type Outcome string

const (
	OutcomeNoop        Outcome = "noop"
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeExpired     Outcome = "expired"
	OutcomeDeferred    Outcome = "deferred"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeConflict    Outcome = "conflict"
)

// Advancer drives one job as far as it can go in one invocation.
type Advancer interface {
	Advance(ctx context.Context, jobID string) (Outcome, error)
}

type ResultCache interface {
	Lookup(ctx context.Context, fingerprint string) (cache.Entry, bool, error)
	Write(ctx context.Context, fingerprint string, payload json.RawMessage) error
}

type OrchestratorConfig struct {
	GenerationTimeout time.Duration
	LockLease         time.Duration
	JobTTL            time.Duration
	Retry             RetryPolicy
	CatalogVersion    string
	WaiterBatch       int
}

type OrchestratorDeps struct {
	Repo       repository.JobsRepository
	Locks      lock.Store
	Cache      ResultCache
	Pipeline   *Pipeline
	Dispatcher queue.Producer
	Logger     zerolog.Logger
	Now        func() time.Time
	NewID      func() string
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Orchestrator owns the job state machine:
// PENDING -> PROCESSING -> COMPLETED | FAILED, and PENDING|PROCESSING -> EXPIRED.
// Every write is a version compare-and-swap, and generation only happens
// while holding the fingerprint lock.
type Orchestrator struct {
	repo       repository.JobsRepository
	locks      lock.Store
	cache      ResultCache
	pipeline   *Pipeline
	dispatcher queue.Producer
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
	sleep      func(ctx context.Context, d time.Duration) error
	config     OrchestratorConfig
}

func NewOrchestrator(deps OrchestratorDeps, config OrchestratorConfig) *Orchestrator {
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = 120 * time.Second
	}
	if config.LockLease <= 0 {
		config.LockLease = 5 * time.Minute
	}
	if config.JobTTL <= 0 {
		config.JobTTL = 24 * time.Hour
	}
	if config.WaiterBatch <= 0 {
		config.WaiterBatch = 100
	}
	config.Retry = config.Retry.withDefaults()
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}

	return &Orchestrator{
		repo:       deps.Repo,
		locks:      deps.Locks,
		cache:      deps.Cache,
		pipeline:   deps.Pipeline,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.With().Str("component", "orchestrator").Logger(),
		now:        deps.Now,
		newID:      deps.NewID,
		sleep:      deps.Sleep,
		config:     config,
	}
}

type SubmitRequest struct {
	OwnerID    string
	Params     domain.GenerationParams
	Regenerate bool
}

// Submit records a new job. A cache hit completes it on the spot; otherwise
// the job is left PENDING and a trigger is dispatched for inline processing.
func (o *Orchestrator) Submit(ctx context.Context, request SubmitRequest) (*domain.Job, error) {
	ownerID := strings.TrimSpace(request.OwnerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	normalized, encoded, fp, err := fingerprint.Compute(request.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := o.now()
	job := &domain.Job{
		ID:          o.newID(),
		OwnerID:     ownerID,
		Kind:        normalized.Kind,
		Fingerprint: fp,
		Status:      domain.JobStatusPending,
		Params:      encoded,
		Regenerate:  request.Regenerate,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(o.config.JobTTL),
	}

	if !request.Regenerate {
		entry, hit, err := o.cache.Lookup(ctx, fp)
		if err != nil {
			o.logger.Warn().Err(err).Str("fingerprint", fp).Msg("cache lookup failed on submit")
		} else if hit {
			job.Status = domain.JobStatusCompleted
			job.Result = entry.Payload
			job.CacheHit = true
		}
	}

	if err := o.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("fingerprint", fp).
		Bool("cache_hit", job.CacheHit).
		Bool("regenerate", job.Regenerate).
		Msg("job submitted")

	if job.Status == domain.JobStatusPending && o.dispatcher != nil {
		message := domain.QueueMessage{
			JobID:       job.ID,
			Kind:        job.Kind,
			OwnerID:     job.OwnerID,
			Fingerprint: job.Fingerprint,
			RequestedAt: now,
		}
		if err := o.dispatcher.Enqueue(ctx, message); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatch failed, job left for sweep")
		}
	}

	return job, nil
}

// GetJob hides jobs of other owners behind ErrNotFound.
func (o *Orchestrator) GetJob(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return job, nil
}

func (o *Orchestrator) ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.JobListItem, int, error) {
	if strings.TrimSpace(filter.OwnerID) == "" {
		return nil, 0, fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	return o.repo.ListJobs(ctx, filter)
}

// Expire moves an unfinished job to EXPIRED now, even ahead of its ExpiresAt.
// It is an operator action; Advance and the sweep only expire past the TTL.
func (o *Orchestrator) Expire(ctx context.Context, jobID string) (Outcome, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return OutcomeNoop, err
	}
	if job.Status.Terminal() {
		return OutcomeNoop, nil
	}
	return o.expire(ctx, job)
}

// Advance is safe to call from any number of invocations at once: the lock
// lets one of them generate and the version check discards stale writes.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) (Outcome, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return OutcomeNoop, err
	}
	if job.Status.Terminal() {
		return OutcomeNoop, nil
	}
	if o.expired(job) {
		return o.expire(ctx, job)
	}

	logger := o.logger.With().Str("job_id", job.ID).Str("fingerprint", job.Fingerprint).Logger()

	holderID := o.newID()
	held, acquired, err := o.locks.Acquire(ctx, job.Fingerprint, holderID, o.config.LockLease)
	if err != nil {
		return OutcomeNoop, fmt.Errorf("acquire generation lock: %w", err)
	}
	if !acquired {
		// The job keeps its status. A stale PROCESSING job is retried by the sweep.
		logger.Debug().Str("holder_id", held.HolderID).Str("status", string(job.Status)).Msg("generation in progress elsewhere, deferring")
		return OutcomeDeferred, nil
	}
	defer func() {
		if err := o.locks.Release(context.WithoutCancel(ctx), job.Fingerprint, holderID); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			logger.Warn().Err(err).Msg("release generation lock failed")
		}
	}()

	if !job.Regenerate {
		entry, hit, err := o.cache.Lookup(ctx, job.Fingerprint)
		if err != nil {
			logger.Warn().Err(err).Msg("cache lookup failed, generating")
		} else if hit {
			return o.completeFromCache(ctx, job, entry.Payload)
		}
	}

	job.Status = domain.JobStatusProcessing
	job.UpdatedAt = o.now()
	if saved, err := o.save(ctx, job); err != nil || !saved {
		return OutcomeConflict, err
	}

	var params domain.GenerationParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return o.fail(ctx, job, fmt.Errorf("decode job params: %w", err))
	}

	allowed, err := o.pipeline.Prepare(params)
	if err != nil {
		return o.fail(ctx, job, err)
	}

	for {
		if job.Attempts >= o.config.Retry.MaxAttempts {
			return o.failWith(ctx, job, &domain.JobError{
				Code:      domain.CodeGenerationTimeout,
				Message:   fmt.Sprintf("attempt budget exhausted after %d interrupted attempts", job.Attempts),
				Retryable: true,
			})
		}
		if _, err := o.locks.Renew(ctx, job.Fingerprint, holderID, o.config.LockLease); err != nil {
			logger.Warn().Err(err).Msg("generation lock lost, leaving job for sweep")
			return OutcomeInterrupted, nil
		}

		job.Attempts++
		job.UpdatedAt = o.now()
		if saved, err := o.save(ctx, job); err != nil || !saved {
			return OutcomeConflict, err
		}

		started := o.now()
		result, attemptErr := o.pipeline.Attempt(ctx, params, allowed, job.Attempts, o.config.GenerationTimeout)
		if attemptErr == nil {
			logger.Info().
				Int("attempt", job.Attempts).
				Str("model", result.ModelID).
				Int("replaced", result.Report.Replaced).
				Int("hallucinated", result.Report.Hallucinated).
				Dur("duration", o.now().Sub(started)).
				Msg("generation succeeded")
			return o.complete(ctx, job, result)
		}
		if ctx.Err() != nil {
			logger.Warn().Int("attempt", job.Attempts).Msg("host budget exhausted mid attempt, leaving job for sweep")
			return OutcomeInterrupted, nil
		}

		var hallucinated *domain.HallucinationError
		if errors.As(attemptErr, &hallucinated) {
			job.Hallucinations++
		}
		retry, wait := o.config.Retry.Decide(attemptErr, job.Attempts, job.Hallucinations)
		logger.Warn().
			Err(attemptErr).
			Int("attempt", job.Attempts).
			Int("hallucinations", job.Hallucinations).
			Bool("retry", retry).
			Dur("backoff", wait).
			Msg("generation attempt failed")
		if !retry {
			return o.fail(ctx, job, attemptErr)
		}
		if err := o.sleep(ctx, wait); err != nil {
			return OutcomeInterrupted, nil
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, job *domain.Job, result AttemptResult) (Outcome, error) {
	report := result.Report
	payload, err := json.Marshal(domain.JobResult{
		Plan: result.Plan,
		Metadata: domain.ResultMetadata{
			Fingerprint:    job.Fingerprint,
			CatalogVersion: o.config.CatalogVersion,
			ModelID:        result.ModelID,
			Attempts:       job.Attempts,
			GeneratedAt:    o.now(),
			Validation:     &report,
		},
	})
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("encode job result: %w", err))
	}

	if err := o.cache.Write(ctx, job.Fingerprint, payload); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("cache write failed")
	}

	job.Status = domain.JobStatusCompleted
	job.Result = payload
	job.Error = nil
	job.CacheHit = false
	job.UpdatedAt = o.now()
	if saved, err := o.save(ctx, job); err != nil || !saved {
		return OutcomeConflict, err
	}

	o.resolveWaiters(ctx, job.Fingerprint, job.ID, payload)
	return OutcomeCompleted, nil
}

func (o *Orchestrator) completeFromCache(ctx context.Context, job *domain.Job, payload json.RawMessage) (Outcome, error) {
	job.Status = domain.JobStatusCompleted
	job.Result = payload
	job.Error = nil
	job.CacheHit = true
	job.UpdatedAt = o.now()
	if saved, err := o.save(ctx, job); err != nil || !saved {
		return OutcomeConflict, err
	}
	o.logger.Info().Str("job_id", job.ID).Msg("job completed from cache")
	return OutcomeCompleted, nil
}

// resolveWaiters completes PENDING jobs that asked for the same fingerprint
// while this one was generating. Failures are left for the sweep.
func (o *Orchestrator) resolveWaiters(ctx context.Context, fp, selfID string, payload json.RawMessage) {
	waiters, err := o.repo.ListPendingByFingerprint(ctx, fp, o.config.WaiterBatch)
	if err != nil {
		o.logger.Warn().Err(err).Str("fingerprint", fp).Msg("list waiting jobs failed")
		return
	}
	resolved := 0
	for _, waiter := range waiters {
		if waiter.ID == selfID || o.expired(waiter) {
			continue
		}
		waiter.Status = domain.JobStatusCompleted
		waiter.Result = payload
		waiter.CacheHit = true
		waiter.UpdatedAt = o.now()
		saved, err := o.save(ctx, waiter)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", waiter.ID).Msg("resolve waiting job failed")
			continue
		}
		if saved {
			resolved++
		}
	}
	if resolved > 0 {
		o.logger.Info().Str("fingerprint", fp).Int("resolved", resolved).Msg("waiting jobs completed")
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, cause error) (Outcome, error) {
	jobError := domain.NewJobError(cause)
	event := o.logger.Warn()
	if jobError.Operational {
		event = o.logger.Error()
	}
	event.Err(cause).
		Str("job_id", job.ID).
		Str("code", string(jobError.Code)).
		Bool("operational", jobError.Operational).
		Int("attempts", job.Attempts).
		Msg("job failed")
	return o.failWith(ctx, job, jobError)
}

func (o *Orchestrator) failWith(ctx context.Context, job *domain.Job, jobError *domain.JobError) (Outcome, error) {
	job.Status = domain.JobStatusFailed
	job.Result = nil
	job.Error = jobError
	job.UpdatedAt = o.now()
	if saved, err := o.save(ctx, job); err != nil || !saved {
		return OutcomeConflict, err
	}
	return OutcomeFailed, nil
}

func (o *Orchestrator) expire(ctx context.Context, job *domain.Job) (Outcome, error) {
	job.Status = domain.JobStatusExpired
	job.Result = nil
	job.Error = &domain.JobError{
		Code:      domain.CodeExpired,
		Message:   "job expired before completion",
		Retryable: true,
	}
	job.UpdatedAt = o.now()
	if saved, err := o.save(ctx, job); err != nil || !saved {
		return OutcomeConflict, err
	}
	o.logger.Info().Str("job_id", job.ID).Msg("job expired")
	return OutcomeExpired, nil
}

func (o *Orchestrator) expired(job *domain.Job) bool {
	return !job.ExpiresAt.IsZero() && !o.now().Before(job.ExpiresAt)
}

// save reports false when another invocation already moved the job on.
func (o *Orchestrator) save(ctx context.Context, job *domain.Job) (bool, error) {
	err := o.repo.UpdateJob(context.WithoutCancel(ctx), job)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrConflict) {
		o.logger.Debug().Str("job_id", job.ID).Msg("job changed concurrently, dropping write")
		return false, nil
	}
	return false, fmt.Errorf("update job %s: %w", job.ID, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
