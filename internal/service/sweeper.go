package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/iago/fitcoach-back/internal/repository"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type SweepConfig struct {
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
	// HostBudget bounds each resumed job so one slow generation cannot
	// starve the rest of the batch.
	HostBudget time.Duration
}

type SweepReport struct {
	Scanned   int `json:"scanned"`
	Resumed   int `json:"resumed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
	Deferred  int `json:"deferred"`
	Errors    int `json:"errors"`
}

// Sweeper finds jobs that stalled in PENDING or PROCESSING (a crashed or
// timed out invocation) and hands them back to the orchestrator.
type Sweeper struct {
	repo     repository.JobsRepository
	advancer Advancer
	logger   zerolog.Logger
	now      func() time.Time
	config   SweepConfig
}

func NewSweeper(
	repo repository.JobsRepository,
	advancer Advancer,
	config SweepConfig,
	logger zerolog.Logger,
	now func() time.Time,
) *Sweeper {
	if config.StaleAfter <= 0 {
		config.StaleAfter = 6 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.HostBudget <= 0 {
		config.HostBudget = 10 * time.Minute
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{
		repo:     repo,
		advancer: advancer,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		now:      now,
		config:   config,
	}
}

// Sweep runs one pass. Per-job failures are counted, not returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.now()
	candidates, err := s.repo.ListSweepCandidates(ctx, domain.SweepFilter{
		Now:         now,
		StaleBefore: now.Add(-s.config.StaleAfter),
		Limit:       s.config.BatchSize,
	})
	if err != nil {
		return SweepReport{}, fmt.Errorf("list sweep candidates: %w", err)
	}

	report := SweepReport{Scanned: len(candidates)}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Concurrency)
	for _, job := range candidates {
		jobID := job.ID
		group.Go(func() error {
			jobCtx, cancel := context.WithTimeout(groupCtx, s.config.HostBudget)
			defer cancel()

			outcome, err := s.advancer.Advance(jobCtx, jobID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				report.Errors++
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("sweep advance failed")
				return nil
			}
			report.Resumed++
			switch outcome {
			case OutcomeCompleted:
				report.Completed++
			case OutcomeFailed:
				report.Failed++
			case OutcomeExpired:
				report.Expired++
			case OutcomeDeferred, OutcomeInterrupted:
				report.Deferred++
			}
			return nil
		})
	}
	_ = group.Wait()

	s.logger.Info().
		Int("scanned", report.Scanned).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Int("expired", report.Expired).
		Int("deferred", report.Deferred).
		Int("errors", report.Errors).
		Msg("sweep finished")
	return report, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("sweep pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
