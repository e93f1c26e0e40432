package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueueClosed is returned by a closed MemoryQueue
var ErrQueueClosed = errors.New("queue closed")

const memoryPollInterval = 100 * time.Millisecond

// MemoryQueue is an in-process JobQueue for single-device deployments
// without a broker. Jobs do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []*Job
	inflight map[uint64]*Job
	dead     []*Job
	nextTag  uint64
	closed   bool
	notify   chan struct{}
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[uint64]*Job),
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the queue
func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	cp := *job
	q.pending = append(q.pending, &cp)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// next pops the first job ready at now, dropping expired ones to the dead list
func (q *MemoryQueue) next(now time.Time) (*Job, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < len(q.pending); i++ {
		job := q.pending[i]
		if job.expiredAt(now) {
			q.dead = append(q.dead, job)
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			i--
			continue
		}
		if !job.ShouldProcessAt(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.nextTag++
		q.inflight[q.nextTag] = job
		return job, q.nextTag, true
	}
	return nil, 0, false
}

// Consume delivers ready jobs until ctx is cancelled or the queue is closed
func (q *MemoryQueue) Consume(ctx context.Context, prefetchCount int) (<-chan *Message, <-chan error, error) {
	if prefetchCount <= 0 {
		prefetchCount = 1
	}
	msgChan := make(chan *Message, prefetchCount)
	errChan := make(chan error, 1)

	go func() {
		defer close(msgChan)
		defer close(errChan)
		ticker := time.NewTicker(memoryPollInterval)
		defer ticker.Stop()

		for {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}

			if job, tag, ok := q.next(time.Now()); ok {
				select {
				case <-ctx.Done():
					_ = q.Nack(tag, false, true)
					return
				case msgChan <- &Message{Job: job, DeliveryTag: tag, Channel: q}:
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-q.notify:
			case <-ticker.C:
			}
		}
	}()

	return msgChan, errChan, nil
}

// Ack implements amqp.Acknowledger
func (q *MemoryQueue) Ack(tag uint64, _ bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[tag]; !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(q.inflight, tag)
	return nil
}

// Nack implements amqp.Acknowledger. Without requeue the job is dead-lettered.
func (q *MemoryQueue) Nack(tag uint64, _ bool, requeue bool) error {
	q.mu.Lock()
	job, ok := q.inflight[tag]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(q.inflight, tag)
	if requeue && !q.closed {
		q.pending = append(q.pending, job)
	} else {
		q.dead = append(q.dead, job)
	}
	q.mu.Unlock()
	if requeue {
		q.wake()
	}
	return nil
}

// Reject implements amqp.Acknowledger
func (q *MemoryQueue) Reject(tag uint64, requeue bool) error {
	return q.Nack(tag, false, requeue)
}

// Len returns the number of jobs waiting for delivery
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLettered returns copies of the jobs that were dead-lettered
func (q *MemoryQueue) DeadLettered() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.dead))
	for i, j := range q.dead {
		out[i] = *j
	}
	return out
}

// HealthCheck reports whether the queue accepts jobs
func (q *MemoryQueue) HealthCheck(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Close stops delivery. Pending jobs are discarded.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
	return nil
}
