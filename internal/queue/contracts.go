package queue

import (
	"context"

	"github.com/iago/fitcoach-back/internal/domain"
)

// Producer sends job triggers to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives job triggers and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
