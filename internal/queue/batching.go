package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/rs/zerolog"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
	Logger             zerolog.Logger
}

// BatchingStats counts what the producer did since it started.
type BatchingStats struct {
	Batches    int64
	Triggers   int64
	Duplicates int64
	Rejected   int64
}

type batchWriter interface {
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

type pendingTrigger struct {
	ctx     context.Context
	message domain.QueueMessage
	done    chan error
}

// BatchingProducer collects job triggers submitted close together and writes
// them to the backend in one call. Repeated triggers for the same job collapse
// into one message, and triggers sharing a fingerprint are written next to
// each other, oldest first, so the first one takes the generation lock and the
// rest are resolved as waiters.
//
// A full buffer fails fast with ErrQueueBackpressure; the job is already
// persisted and the sweep picks it up.
type BatchingProducer struct {
	next   Producer
	writer batchWriter
	cfg    BatchingConfig
	logger zerolog.Logger

	requests   chan *pendingTrigger
	slots      chan struct{}
	inFlight   sync.WaitGroup
	closing    chan struct{}
	finished   chan struct{}
	closeOnce  sync.Once
	parentDone <-chan struct{}

	batches    atomic.Int64
	triggers   atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
}

func NewBatchingProducer(parent context.Context, next Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	p := &BatchingProducer{
		next:       next,
		cfg:        cfg,
		logger:     cfg.Logger.With().Str("component", "trigger_batcher").Logger(),
		requests:   make(chan *pendingTrigger, cfg.QueueCapacity),
		slots:      make(chan struct{}, cfg.MaxInFlightBatches),
		closing:    make(chan struct{}),
		finished:   make(chan struct{}),
		parentDone: parent.Done(),
	}
	if writer, ok := next.(batchWriter); ok {
		p.writer = writer
	}

	go p.loop()
	return p
}

// Enqueue blocks until the batch holding message was written or failed.
func (p *BatchingProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.finished:
		return ErrBatchingClosed
	default:
	}

	trigger := &pendingTrigger{ctx: ctx, message: message, done: make(chan error, 1)}
	select {
	case p.requests <- trigger:
	default:
		p.rejected.Add(1)
		return ErrQueueBackpressure
	}

	select {
	case err := <-trigger.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.finished:
		select {
		case err := <-trigger.done:
			return err
		default:
			return ErrBatchingClosed
		}
	}
}

// Close flushes what is buffered and waits for in-flight writes.
func (p *BatchingProducer) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		<-p.finished
	})
}

func (p *BatchingProducer) Stats() BatchingStats {
	return BatchingStats{
		Batches:    p.batches.Load(),
		Triggers:   p.triggers.Load(),
		Duplicates: p.duplicates.Load(),
		Rejected:   p.rejected.Load(),
	}
}

func (p *BatchingProducer) loop() {
	defer close(p.finished)
	defer p.inFlight.Wait()

	buffer := make([]*pendingTrigger, 0, p.cfg.MaxBatchSize)
	var flushAt <-chan time.Time

	dispatch := func(final bool) {
		flushAt = nil
		if len(buffer) == 0 {
			return
		}
		batch := buffer
		buffer = make([]*pendingTrigger, 0, p.cfg.MaxBatchSize)
		p.dispatch(batch, final)
	}

	for {
		select {
		case <-p.parentDone:
			dispatch(true)
			return
		case <-p.closing:
			p.drain(&buffer)
			dispatch(true)
			return
		case <-flushAt:
			dispatch(false)
		case trigger := <-p.requests:
			buffer = append(buffer, trigger)
			if len(buffer) == 1 {
				flushAt = time.After(p.cfg.FlushInterval)
			}
			if len(buffer) >= p.cfg.MaxBatchSize {
				dispatch(false)
			}
		}
	}
}

// drain moves whatever callers managed to buffer before Close into the last batch.
func (p *BatchingProducer) drain(buffer *[]*pendingTrigger) {
	for {
		select {
		case trigger := <-p.requests:
			*buffer = append(*buffer, trigger)
		default:
			return
		}
	}
}

// dispatch waits for a free slot, then writes the batch in the background.
// While all slots are busy the loop stops reading, so the request buffer
// fills up and callers see backpressure.
func (p *BatchingProducer) dispatch(batch []*pendingTrigger, final bool) {
	live := batch[:0]
	for _, trigger := range batch {
		if err := trigger.ctx.Err(); err != nil {
			trigger.done <- err
			continue
		}
		live = append(live, trigger)
	}
	if len(live) == 0 {
		return
	}

	p.slots <- struct{}{}
	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		defer func() { <-p.slots }()
		p.write(live, final)
	}()
}

func (p *BatchingProducer) write(batch []*pendingTrigger, final bool) {
	messages := orderTriggers(batch)
	p.batches.Add(1)
	p.triggers.Add(int64(len(batch)))
	p.duplicates.Add(int64(len(batch) - len(messages)))

	ctx := context.Background()
	if !final {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FlushTimeout)
		defer cancel()
	}

	var err error
	if p.writer != nil {
		err = p.writer.EnqueueBatch(ctx, messages)
	} else {
		for _, message := range messages {
			if err = p.next.Enqueue(ctx, message); err != nil {
				break
			}
		}
	}
	if err != nil {
		p.logger.Warn().Err(err).Int("messages", len(messages)).Msg("trigger batch write failed")
	}

	for _, trigger := range batch {
		trigger.done <- err
	}
}

// orderTriggers keeps one message per job and groups messages by kind and
// fingerprint, oldest request first within a group.
func orderTriggers(batch []*pendingTrigger) []domain.QueueMessage {
	byJob := make(map[string]domain.QueueMessage, len(batch))
	for _, trigger := range batch {
		current, seen := byJob[trigger.message.JobID]
		if !seen || trigger.message.RequestedAt.Before(current.RequestedAt) {
			byJob[trigger.message.JobID] = trigger.message
		}
	}

	messages := make([]domain.QueueMessage, 0, len(byJob))
	for _, message := range byJob {
		messages = append(messages, message)
	}
	sort.Slice(messages, func(i, j int) bool {
		left, right := messages[i], messages[j]
		if left.Kind != right.Kind {
			return left.Kind < right.Kind
		}
		if left.Fingerprint != right.Fingerprint {
			return left.Fingerprint < right.Fingerprint
		}
		if !left.RequestedAt.Equal(right.RequestedAt) {
			return left.RequestedAt.Before(right.RequestedAt)
		}
		return left.JobID < right.JobID
	})
	return messages
}
