package queue

import (
	"context"
	"time"
)

// MessageInterface is a delivered job awaiting acknowledgement
type MessageInterface interface {
	Ack() error
	Nack(requeue bool) error
	GetJob() *Job
}

// JobQueue is the interface for job queues
type JobQueue interface {
	// Enqueue adds a job to the queue
	Enqueue(ctx context.Context, job *Job) error

	// Consume delivers messages until ctx is cancelled. The caller acknowledges
	// each message. Prefetch bounds the unacknowledged messages held at once.
	Consume(ctx context.Context, prefetchCount int) (<-chan *Message, <-chan error, error)

	// Close closes the queue connection
	Close() error

	// HealthCheck verifies the queue connection is healthy
	HealthCheck(ctx context.Context) error
}

// DLQPurger removes dead-lettered jobs older than a retention period
type DLQPurger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error)
}

var (
	_ JobQueue         = (*RabbitMQQueue)(nil)
	_ DLQPurger        = (*RabbitMQQueue)(nil)
	_ JobQueue         = (*MemoryQueue)(nil)
	_ MessageInterface = (*Message)(nil)
)
