package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MemoryQueue is a channel-backed Queue. Each worker processes a job to
// completion before taking the next one.
type MemoryQueue struct {
	jobs   chan *Job
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	closed sync.Once
	logger *slog.Logger
}

// NewMemoryQueue creates an in-process queue with the given buffer.
func NewMemoryQueue(buffer int, logger *slog.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		jobs:   make(chan *Job, buffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "queue"),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	select {
	case <-q.done:
		return errors.New("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	}
}

// StartConsumer launches the worker pool. Failed jobs are logged and
// dropped; the in-process queue has no redelivery.
func (q *MemoryQueue) StartConsumer(ctx context.Context, handler Handler, opts Options) error {
	q.once.Do(func() {
		for i := 0; i < opts.concurrency(); i++ {
			q.wg.Add(1)
			go q.worker(ctx, handler)
		}
	})
	return nil
}

func (q *MemoryQueue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			if err := handler(ctx, job); err != nil {
				q.logger.Error("job failed",
					"kind", string(job.Kind),
					"tenant_id", job.TenantID,
					"message_id", job.MessageID,
					"error", err)
			}
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	q.wg.Wait()
	return nil
}
