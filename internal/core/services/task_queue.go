package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

// TaskQueue is the bounded FIFO hand-off between the dispatch sweep and the
// queue consumers. Publish never blocks while there is room; past capacity
// it blocks or rejects depending on the overflow policy.
type TaskQueue struct {
	logger    *slog.Logger
	messages  chan domain.QueueMessage
	overflow  domain.QueueOverflow
	closed    chan struct{}
	closeOnce sync.Once
}

func NewTaskQueue(logger *slog.Logger, cfg domain.QueueConfig) *TaskQueue {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 256
	}
	overflow := cfg.Overflow
	if overflow != domain.QueueReject {
		overflow = domain.QueueBlock
	}
	return &TaskQueue{
		logger:   logger,
		messages: make(chan domain.QueueMessage, capacity),
		overflow: overflow,
		closed:   make(chan struct{}),
	}
}

// Publish appends msg to the tail of the queue.
func (q *TaskQueue) Publish(ctx context.Context, msg domain.QueueMessage) error {
	select {
	case <-q.closed:
		return domain.ErrQueueClosed
	default:
	}

	select {
	case q.messages <- msg:
		q.logger.Debug("task queued", "task_id", msg.TaskID, "depth", len(q.messages))
		return nil
	default:
	}

	if q.overflow == domain.QueueReject {
		return errors.Wrapf(domain.ErrQueueFull, "capacity %d", cap(q.messages))
	}

	q.logger.Warn("task queue full, waiting for space", "task_id", msg.TaskID, "capacity", cap(q.messages))
	select {
	case q.messages <- msg:
		return nil
	case <-q.closed:
		return domain.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll blocks until a message is available, ctx is done, or the queue is closed.
func (q *TaskQueue) Poll(ctx context.Context) (domain.QueueMessage, error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-q.closed:
		return domain.QueueMessage{}, domain.ErrQueueClosed
	case <-ctx.Done():
		return domain.QueueMessage{}, ctx.Err()
	}
}

// Close wakes every blocked Poll and Publish. Messages still buffered are
// abandoned; their rows are picked up again by DispatchScheduler.Recover.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		q.logger.Info("task queue closed", "abandoned", len(q.messages))
	})
}

func (q *TaskQueue) Len() int { return len(q.messages) }

func (q *TaskQueue) Cap() int { return cap(q.messages) }
