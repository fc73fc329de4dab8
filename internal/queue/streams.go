package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	// ClaimIdle is how long a delivered entry may stay unacknowledged before
	// another consumer takes it over. It covers workers that died mid-job.
	ClaimIdle time.Duration
	ReadBlock time.Duration
	ReadCount int64
}

// StreamsQueue carries job triggers over a Redis Stream with one consumer
// group. Failed triggers are re-added with a bumped attempt count and land in
// the DLQ stream once MaxAttempts is reached.
type StreamsQueue struct {
	client *redis.Client
	cfg    StreamsConfig
}

// NewStreamsQueue shares the client with the cache and lock stores; closing
// it is up to the caller.
func NewStreamsQueue(ctx context.Context, client *redis.Client, cfg StreamsConfig) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "plan_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "plan_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 15 * time.Minute
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}

	q := &StreamsQueue{client: client, cfg: cfg}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := q.client.XAdd(ctx, q.addArgs(q.cfg.Stream, streamValues(message))).Err(); err != nil {
		return fmt.Errorf("add trigger to stream: %w", err)
	}
	return nil
}

// EnqueueBatch writes every trigger in one pipeline round trip.
func (q *StreamsQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	if len(messages) == 0 {
		return nil
	}
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, message := range messages {
			pipe.XAdd(ctx, q.addArgs(q.cfg.Stream, streamValues(message)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add trigger batch to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	claimCursor := "0-0"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := q.reclaim(ctx, claimCursor, handler)
		if err != nil {
			return err
		}
		claimCursor = next

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.ReadCount,
			Block:    q.cfg.ReadBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read trigger stream: %w", err)
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				q.handle(ctx, entry, handler)
			}
		}
	}
}

// reclaim takes over entries another consumer read but never acknowledged.
// It walks the pending list one page per call and returns the next cursor.
func (q *StreamsQueue) reclaim(
	ctx context.Context,
	cursor string,
	handler func(context.Context, domain.QueueMessage) error,
) (string, error) {
	entries, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    cursor,
		Count:    q.cfg.ReadCount,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "0-0", nil
		}
		if ctx.Err() != nil {
			return cursor, ctx.Err()
		}
		return cursor, fmt.Errorf("claim idle triggers: %w", err)
	}
	for _, entry := range entries {
		q.handle(ctx, entry, handler)
	}
	if next == "" {
		next = "0-0"
	}
	return next, nil
}

// handle always settles the entry: acknowledged on success, re-added with a
// bumped attempt or moved to the DLQ on failure.
func (q *StreamsQueue) handle(
	ctx context.Context,
	entry redis.XMessage,
	handler func(context.Context, domain.QueueMessage) error,
) {
	message, err := parseStreamMessage(entry)
	if err != nil {
		_ = q.deadLetter(ctx, domain.QueueMessage{}, entry.ID, err.Error())
		_ = q.settle(ctx, entry.ID)
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		_ = q.settle(ctx, entry.ID)
		return
	}
	if ctx.Err() != nil {
		// Shutting down: leave it pending so a consumer reclaims it.
		return
	}

	message.Attempt++
	if message.Attempt >= q.cfg.MaxAttempts {
		_ = q.deadLetter(ctx, message, entry.ID, handleErr.Error())
	} else if err := q.Enqueue(ctx, message); err != nil {
		_ = q.deadLetter(ctx, message, entry.ID, fmt.Sprintf("requeue failed: %v", err))
	}
	_ = q.settle(ctx, entry.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) settle(ctx context.Context, streamID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, streamID)
		pipe.XDel(ctx, q.cfg.Stream, streamID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle stream entry: %w", err)
	}
	return nil
}

func (q *StreamsQueue) deadLetter(ctx context.Context, message domain.QueueMessage, streamID, reason string) error {
	values := streamValues(message)
	values["stream_id"] = streamID
	values["error"] = reason
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := q.client.XAdd(ctx, q.addArgs(q.cfg.DLQStream, values)).Err(); err != nil {
		return fmt.Errorf("add to dead letter stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) addArgs(stream string, values map[string]any) *redis.XAddArgs {
	return &redis.XAddArgs{Stream: stream, Values: values}
}

func streamValues(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"job_id":       message.JobID,
		"kind":         string(message.Kind),
		"owner_id":     message.OwnerID,
		"fingerprint":  message.Fingerprint,
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if strings.TrimSpace(jobID) == "" {
		return domain.QueueMessage{}, errors.New("empty job_id")
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	kindValue, err := getString("kind")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	ownerID, err := getString("owner_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	fingerprint, err := getString("fingerprint")
	if err != nil {
		return domain.QueueMessage{}, err
	}

	return domain.QueueMessage{
		JobID:       jobID,
		Kind:        domain.JobKind(kindValue),
		OwnerID:     ownerID,
		Fingerprint: fingerprint,
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}, nil
}
