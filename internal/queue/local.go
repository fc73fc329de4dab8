package queue

import (
	"context"
	"sync"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/rs/zerolog"
)

// DeadLetter is a trigger the local queue gave up on.
type DeadLetter struct {
	Message domain.QueueMessage
	Reason  string
	MovedAt time.Time
}

// LocalQueue is the in-process fallback when Redis is not configured.
// Triggers live only in memory; the sweep recovers anything lost on restart.
type LocalQueue struct {
	triggers    chan domain.QueueMessage
	maxAttempts int
	retryDelay  time.Duration
	logger      zerolog.Logger

	mu          sync.Mutex
	deadLetters []DeadLetter
}

func NewLocalQueue(bufferSize, maxAttempts int, logger zerolog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalQueue{
		triggers:    make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      logger.With().Str("component", "local_queue").Logger(),
	}
}

// Enqueue never blocks. A full buffer returns ErrQueueBackpressure and the
// persisted job waits for the sweep.
func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.triggers <- message:
		return nil
	default:
		return ErrQueueBackpressure
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.triggers:
			if err := handler(ctx, message); err != nil {
				q.retryOrBury(ctx, message, err)
			}
		}
	}
}

// retryOrBury re-delivers a failed trigger after a linear delay, or records
// it as a dead letter once its attempts are spent.
func (q *LocalQueue) retryOrBury(ctx context.Context, message domain.QueueMessage, cause error) {
	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.mu.Lock()
		q.deadLetters = append(q.deadLetters, DeadLetter{
			Message: message,
			Reason:  cause.Error(),
			MovedAt: time.Now().UTC(),
		})
		q.mu.Unlock()
		q.logger.Warn().Err(cause).Str("job_id", message.JobID).Int("attempt", message.Attempt).Msg("trigger moved to dead letters")
		return
	}

	time.AfterFunc(time.Duration(message.Attempt)*q.retryDelay, func() {
		if err := q.Enqueue(ctx, message); err != nil {
			q.logger.Debug().Err(err).Str("job_id", message.JobID).Msg("trigger retry dropped")
		}
	})
}

func (q *LocalQueue) DLQSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deadLetters)
}

// DeadLetters returns a copy of the buried triggers, oldest first.
func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.deadLetters...)
}
