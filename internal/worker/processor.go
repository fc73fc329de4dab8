package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/iago/fitcoach-back/internal/queue"
	"github.com/iago/fitcoach-back/internal/repository"
	"github.com/iago/fitcoach-back/internal/service"
	"github.com/rs/zerolog"
)

// Processor consumes job triggers and hands each job to the orchestrator
// under its own host budget.
type Processor struct {
	consumer   queue.Consumer
	advancer   service.Advancer
	hostBudget time.Duration
	logger     zerolog.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	advancer service.Advancer,
	hostBudget time.Duration,
	logger zerolog.Logger,
) *Processor {
	if hostBudget <= 0 {
		hostBudget = 10 * time.Minute
	}
	return &Processor{
		consumer:   consumer,
		advancer:   advancer,
		hostBudget: hostBudget,
		logger:     logger.With().Str("component", "worker").Logger(),
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error().Err(err).Msg("worker consume loop error")

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// processMessage only returns an error when the trigger is worth
// redelivering. Deferred and interrupted jobs are left for the sweep.
func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	jobCtx, cancel := context.WithTimeout(ctx, p.hostBudget)
	defer cancel()

	started := time.Now()
	outcome, err := p.advancer.Advance(jobCtx, message.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn().Str("job_id", message.JobID).Msg("dropping trigger for unknown job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("advance job %s: %w", message.JobID, err)
	}

	p.logger.Info().
		Str("job_id", message.JobID).
		Str("kind", string(message.Kind)).
		Str("outcome", string(outcome)).
		Dur("duration", time.Since(started)).
		Msg("job trigger processed")
	return nil
}
